package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxFrameSize bounds a single frame so a corrupt length prefix cannot
// make the reader allocate without limit. Scripts carrying chart data can be large.
const DefaultMaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds the reader's limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Writer writes uvarint length-prefixed frames. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteFrame encodes f and flushes it.
func (w *Writer) WriteFrame(f Frame) error {
	body := AppendFrame(nil, f)
	prefix := protowire.AppendVarint(nil, uint64(len(body)))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(prefix); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// Reader reads frames written by Writer. It is not safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize uint64
	buf     []byte
}

// NewReader wraps r. maxSize <= 0 uses DefaultMaxFrameSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Reader{r: bufio.NewReader(r), maxSize: uint64(maxSize)}
}

// ReadFrame reads and decodes the next frame.
// It returns io.EOF only when the stream ends on a frame boundary.
func (r *Reader) ReadFrame() (Frame, error) {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame length: %w", err)
	}
	if size > r.maxSize {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, r.maxSize)
	}

	if uint64(cap(r.buf)) < size {
		r.buf = make([]byte, size)
	}
	body := r.buf[:size]
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Frame{}, fmt.Errorf("read frame body: %w", err)
	}
	return DecodeFrame(body)
}

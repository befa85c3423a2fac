package web

import (
	"context"
	"html/template"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/window"
)

const (
	showScript = `document.documentElement.style.visibility = "visible";`
	hideScript = `document.documentElement.style.visibility = "hidden";`
)

// Surface is one browser page. Scripts queue in its outbox until a page is
// connected; a reload reconnects to the same outbox.
type Surface struct {
	provider *Provider
	index    int
	opts     bus.WindowOptions
	bridge   *window.Bridge
	outbox   *bus.Queue[string]

	mu         sync.Mutex
	conn       *websocket.Conn
	stopConn   context.CancelFunc
	generation int
	loaded     bool
	gone       bool
	onLoaded   []func()
	graceTimer *time.Timer
}

func newSurface(p *Provider, index int, opts bus.WindowOptions, bridge *window.Bridge) *Surface {
	return &Surface{
		provider: p,
		index:    index,
		opts:     opts,
		bridge:   bridge,
		outbox:   bus.NewQueue[string](),
	}
}

func (s *Surface) markup() (template.HTML, error) {
	if s.opts.Markup != "" {
		return template.HTML(s.opts.Markup), nil //nolint:gosec // markup is the application's own page content
	}
	if s.provider.cfg.MarkupFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.provider.cfg.MarkupFile)
	if err != nil {
		return "", err
	}
	return template.HTML(data), nil //nolint:gosec // markup is the application's own page content
}

// Show implements window.Surface.
func (s *Surface) Show() error {
	return s.EvaluateScript(showScript)
}

// Hide implements window.Surface.
func (s *Surface) Hide() error {
	return s.EvaluateScript(hideScript)
}

// EvaluateScript implements window.Surface.
func (s *Surface) EvaluateScript(script string) error {
	if s.isGone() {
		return window.ErrSurfaceGone
	}
	if err := s.outbox.Push(script); err != nil {
		return window.ErrSurfaceGone
	}
	return nil
}

// OnLoaded implements window.Surface.
func (s *Surface) OnLoaded(fn func()) {
	s.mu.Lock()
	if !s.loaded {
		s.onLoaded = append(s.onLoaded, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Close implements window.Surface.
func (s *Surface) Close() error {
	s.mu.Lock()
	s.gone = true
	conn := s.conn
	if s.stopConn != nil {
		s.stopConn()
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.mu.Unlock()

	s.outbox.Close()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}

func (s *Surface) isGone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}

// attach takes over a freshly upgraded connection, replacing any previous one.
func (s *Surface) attach(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	if s.stopConn != nil {
		s.stopConn()
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.conn = conn
	s.stopConn = cancel
	s.generation++
	gen := s.generation
	first := !s.loaded
	s.loaded = true
	hooks := s.onLoaded
	s.onLoaded = nil
	s.mu.Unlock()

	log.Debug(log.CatSurface, "page connected", "index", s.index, "generation", gen)

	go s.writePump(ctx, conn)
	go s.readPump(ctx, conn, gen)

	if first {
		for _, fn := range hooks {
			fn()
		}
	}
}

func (s *Surface) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	scripts := make(chan string)
	go func() {
		defer close(scripts)
		for {
			script, err := s.outbox.Pop(ctx)
			if err != nil {
				return
			}
			select {
			case scripts <- script:
			case <-ctx.Done():
				// Not yet written; the next connection delivers it.
				_ = s.outbox.Push(script)
				return
			}
		}
	}()

	for {
		select {
		case script, ok := <-scripts:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				_ = s.outbox.Push(script)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(script)); err != nil {
				log.Warn(log.CatSurface, "script write failed", "index", s.index, "error", err)
				_ = s.outbox.Push(script)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Surface) readPump(ctx context.Context, conn *websocket.Conn, gen int) {
	defer s.detach(conn, gen)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				log.Warn(log.CatSurface, "page connection lost", "index", s.index, "error", err)
			}
			return
		}
		switch kind {
		case websocket.TextMessage:
			_ = s.bridge.Callback(string(data))
		case websocket.BinaryMessage:
			_ = s.bridge.CallbackFrame(data)
		}
	}
}

// detach drops conn if it is still current and starts the reconnect grace
// period, after which the surface counts as closed by the user.
func (s *Surface) detach(conn *websocket.Conn, gen int) {
	_ = conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.gone {
		return
	}
	if s.stopConn != nil {
		s.stopConn()
		s.stopConn = nil
	}
	s.conn = nil
	s.graceTimer = time.AfterFunc(s.provider.cfg.ReconnectGrace, func() {
		s.mu.Lock()
		if s.generation != gen || s.gone {
			s.mu.Unlock()
			return
		}
		s.gone = true
		s.mu.Unlock()
		log.Info(log.CatSurface, "page closed", "index", s.index)
		s.outbox.Close()
		s.provider.checkAllClosed()
	})
}

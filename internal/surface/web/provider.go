// Package web renders window surfaces as browser pages. Each surface is a
// page served from a local HTTP listener; scripts travel to the page and
// callbacks travel back over one websocket per page.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/window"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultReconnectGrace = 3 * time.Second
)

// Config configures a Provider.
type Config struct {
	// Addr is the listen address. Default 127.0.0.1:0 (any free port).
	Addr string
	// MarkupFile, when set, is read on every page load for windows created
	// without inline markup, so edits show up on reload.
	MarkupFile string
	// OpenCommand, when set, is run with the page URL to open each window.
	OpenCommand string
	// ScreenWidth and ScreenHeight resolve maximized windows. Default 1920x1080.
	ScreenWidth  int
	ScreenHeight int
	// ReconnectGrace is how long a disconnected page may take to reconnect
	// (a reload) before its surface counts as closed.
	ReconnectGrace time.Duration
}

// Provider is a window.Provider backed by a local HTTP server.
type Provider struct {
	cfg      Config
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	surfaces  []*Surface
	running   bool
	allClosed chan struct{}
	closeOnce sync.Once
}

// New starts listening immediately so window URLs are known before Run.
func New(cfg Config) (*Provider, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		cfg.ScreenWidth, cfg.ScreenHeight = 1920, 1080
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = defaultReconnectGrace
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	p := &Provider{
		cfg:       cfg,
		listener:  ln,
		allClosed: make(chan struct{}),
	}
	p.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /windows/{index}", p.servePage)
	mux.HandleFunc("GET /windows/{index}/ws", p.serveWs)
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatSurface, "web surface server stopped", err)
		}
	}()
	log.Info(log.CatSurface, "web surfaces listening", "addr", ln.Addr().String())
	return p, nil
}

// sameOrigin accepts requests without an Origin header and requests whose
// Origin host matches the Host header.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// URL returns the page address of window index.
func (p *Provider) URL(index int) string {
	return fmt.Sprintf("http://%s/windows/%d", p.listener.Addr().String(), index)
}

// CreateWindow implements window.Provider.
func (p *Provider) CreateWindow(opts bus.WindowOptions, bridge *window.Bridge) (window.Surface, error) {
	p.mu.Lock()
	s := newSurface(p, len(p.surfaces), opts, bridge)
	p.surfaces = append(p.surfaces, s)
	running := p.running
	p.mu.Unlock()

	if running {
		p.open(s)
	}
	return s, nil
}

// ScreenSize implements window.Provider.
func (p *Provider) ScreenSize() (int, int) {
	return p.cfg.ScreenWidth, p.cfg.ScreenHeight
}

// Run opens every window created so far and serves until ctx is done or
// every page has gone away.
func (p *Provider) Run(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	pending := append([]*Surface(nil), p.surfaces...)
	p.mu.Unlock()

	for _, s := range pending {
		p.open(s)
	}

	select {
	case <-ctx.Done():
	case <-p.allClosed:
		log.Info(log.CatSurface, "all web surfaces closed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.server.Shutdown(shutdownCtx)
}

// open launches the configured browser command for s.
func (p *Provider) open(s *Surface) {
	u := p.URL(s.index)
	if p.cfg.OpenCommand == "" {
		log.Info(log.CatSurface, "window ready", "index", s.index, "url", u)
		return
	}
	cmd := exec.Command(p.cfg.OpenCommand, u) //nolint:gosec // G204: command comes from user config
	cmd.Stdout, cmd.Stderr = nil, os.Stderr
	if err := cmd.Start(); err != nil {
		log.ErrorErr(log.CatSurface, "open window failed", err, "index", s.index, "url", u)
		return
	}
	go func() { _ = cmd.Wait() }()
}

func (p *Provider) surfaceFor(r *http.Request) (*Surface, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.surfaces) {
		return nil, false
	}
	return p.surfaces[index], true
}

func (p *Provider) servePage(w http.ResponseWriter, r *http.Request) {
	s, ok := p.surfaceFor(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	markup, err := s.markup()
	if err != nil {
		log.ErrorErr(log.CatSurface, "read markup failed", err, "index", s.index)
		http.Error(w, "markup unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderPage(w, pageData{Title: s.opts.Title, Index: s.index, WindowID: s.opts.WindowID, Markup: markup}); err != nil {
		log.ErrorErr(log.CatSurface, "render page failed", err, "index", s.index)
	}
}

func (p *Provider) serveWs(w http.ResponseWriter, r *http.Request) {
	s, ok := p.surfaceFor(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorErr(log.CatSurface, "websocket upgrade failed", err, "index", s.index)
		return
	}
	s.attach(conn)
}

func (p *Provider) checkAllClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.surfaces {
		if !s.isGone() {
			return
		}
	}
	p.closeOnce.Do(func() { close(p.allClosed) })
}

// Close stops the server without waiting for Run.
func (p *Provider) Close() error {
	return p.server.Close()
}

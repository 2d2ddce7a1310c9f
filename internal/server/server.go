// Package server implements the websocket control channel shared with the
// browser extension. The extension reports open tabs; the daemon asks it to
// close tabs of over-limit websites.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// Message types on the control channel.
const (
	MessageTabUpdate = "tabUpdate"
	MessageCloseTab  = "closeTab"
)

// DefaultPath is the websocket endpoint the extension connects to.
const DefaultPath = "/websocket/tabs"

// DefaultAllowedOrigins match the Origin headers sent by Chromium and
// Firefox extensions. Patterns containing "://" are matched against
// scheme and host.
var DefaultAllowedOrigins = []string{"chrome-extension://*", "moz-extension://*"}

// InboundMessage is a frame sent by the extension.
type InboundMessage struct {
	Type string   `json:"type"`
	URLs []string `json:"urls"`
}

// CloseTabMessage asks the extension to close every tab of a domain.
type CloseTabMessage struct {
	Type   string `json:"type"`
	Domain string `json:"domain"`
}

// TabState receives tab reports and knows how many domains are active.
type TabState interface {
	domain.TabUpdater
	Len() int
}

// Options configures the control channel.
type Options struct {
	ListenAddr string
	Path       string
	// AllowedOrigins are patterns accepted in the Origin header. Nil uses
	// DefaultAllowedOrigins. Requests without an Origin header are always
	// accepted.
	AllowedOrigins  []string
	MaxMessageBytes int64
	WriteTimeout    time.Duration
}

// Server owns the HTTP listener and the set of live extension connections.
type Server struct {
	opts   Options
	tabs   TabState
	logger *zap.Logger
	router chi.Router

	httpSrv  *http.Server
	listener net.Listener

	mu       sync.Mutex
	conns    map[uuid.UUID]*websocket.Conn
	closing  bool
	handlers sync.WaitGroup
}

// New creates a control channel server. Call Start to begin listening, or
// mount Handler on an existing server.
func New(opts Options, tabs TabState, logger *zap.Logger) *Server {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = DefaultAllowedOrigins
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	s := &Server{
		opts:   opts,
		tabs:   tabs,
		logger: logger.Named("server"),
		conns:  make(map[uuid.UUID]*websocket.Conn),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(opts.Path, s.handleTabs)
	r.Get("/healthz", s.handleHealth)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the control channel.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.ListenAddr, err)
	}

	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control channel stopped", zap.Error(err))
		}
	}()

	s.logger.Info("control channel listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.opts.Path))
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConnectionCount returns the number of live extension connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "daemon is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.handlers.Add(1)
	s.mu.Unlock()
	defer s.handlers.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("failed to accept websocket", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(s.opts.MaxMessageBytes)

	id := uuid.New()
	if !s.track(id, conn) {
		_ = conn.Close(websocket.StatusGoingAway, "daemon is shutting down")
		return
	}
	defer s.untrack(id)

	log := s.logger.With(zap.Stringer("conn", id), zap.String("remote", r.RemoteAddr))
	log.Info("extension connected")
	s.readLoop(r.Context(), conn, log)
}

func (s *Server) track(id uuid.UUID, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// readLoop consumes frames until the connection closes. Bad frames are
// logged and skipped; they never close the connection.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("extension disconnected")
			default:
				log.Info("extension connection lost", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			log.Warn("ignoring non-text frame")
			continue
		}
		s.handleMessage(data, log)
	}
}

func (s *Server) handleMessage(data []byte, log *zap.Logger) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("malformed control message", zap.Error(err))
		return
	}

	switch msg.Type {
	case MessageTabUpdate:
		s.tabs.UpdateUrls(msg.URLs)
		log.Debug("tabs updated", zap.Int("urls", len(msg.URLs)))
	default:
		log.Warn("unknown control message type", zap.String("type", msg.Type))
	}
}

// SendCloseTabCommand broadcasts a closeTab request for domainName to every
// connected extension. A failed write does not stop the broadcast; failures
// are returned together.
func (s *Server) SendCloseTabCommand(ctx context.Context, domainName string) error {
	payload, err := json.Marshal(CloseTabMessage{Type: MessageCloseTab, Domain: domainName})
	if err != nil {
		return fmt.Errorf("failed to encode closeTab: %w", err)
	}

	s.mu.Lock()
	targets := make(map[uuid.UUID]*websocket.Conn, len(s.conns))
	for id, conn := range s.conns {
		targets[id] = conn
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		s.logger.Warn("no extension connected, cannot close tabs", zap.String("domain", domainName))
		return nil
	}

	var errs error
	for id, conn := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			s.logger.Warn("failed to send closeTab",
				zap.Stringer("conn", id),
				zap.String("domain", domainName),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("connection %s: %w", id, err))
		}
	}

	s.logger.Info("closeTab sent",
		zap.String("domain", domainName),
		zap.Int("connections", len(targets)))
	return errs
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Domains     int    `json:"domains"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Connections: s.ConnectionCount(),
		Domains:     s.tabs.Len(),
	})
}

// Shutdown stops accepting extensions, closes every live connection with a
// normal closure, waits for connection handlers and releases the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			if err := conn.Close(websocket.StatusNormalClosure, "daemon shutting down"); err != nil {
				s.logger.Debug("close handshake incomplete", zap.Error(err))
			}
		}(conn)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("waiting for connection handlers: %w", ctx.Err()))
	}

	if s.httpSrv != nil {
		if shutdownErr := s.httpSrv.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to shutdown http server: %w", shutdownErr))
		}
	}

	s.logger.Info("control channel stopped", zap.Int("closed_connections", len(conns)))
	return err
}

var _ domain.TabCloser = (*Server)(nil)

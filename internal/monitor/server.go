// Package monitor provides the observer HTTP server: health and stats
// endpoints, Prometheus metrics, and a WebSocket stream of every envelope
// sent on the bus.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/bus"
	"github.com/dayuer/agentbus/internal/ctxstore"
	"github.com/dayuer/agentbus/internal/logging"
)

// Config configures the monitor Server.
type Config struct {
	Addr              string
	Bus               *bus.Bus
	Store             *ctxstore.Store // optional
	Logger            zerolog.Logger
	HeartbeatInterval time.Duration // defaults to 10s
}

// Server is the observer HTTP server.
type Server struct {
	addr      string
	bus       *bus.Bus
	store     *ctxstore.Store
	heartbeat time.Duration
	log       zerolog.Logger
	startTime time.Time

	wsConns map[*wsConn]bool
	wsMu    sync.Mutex

	router chi.Router
	srv    *http.Server
}

// NewServer creates the server and subscribes it to the bus.
func NewServer(cfg Config) *Server {
	hb := cfg.HeartbeatInterval
	if hb <= 0 {
		hb = 10 * time.Second
	}
	s := &Server{
		addr:      cfg.Addr,
		bus:       cfg.Bus,
		store:     cfg.Store,
		heartbeat: hb,
		log:       logging.Component(cfg.Logger, "monitor"),
		startTime: time.Now(),
		wsConns:   make(map[*wsConn]bool),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/mailboxes/{name}", s.handleMailbox)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)
	s.router = r

	cfg.Bus.Subscribe(s.broadcast)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled. It returns once the listener is
// closed; a bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("monitor listening")

	go s.heartbeatLoop(ctx)
	go func() {
		<-ctx.Done()
		s.closeAllWS()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"bus":       s.bus.Stats(),
		"uptime":    int(time.Since(s.startTime).Seconds()),
		"wsClients": s.WSConnectionCount(),
	}
	if s.store != nil {
		stats["contexts"] = s.store.Len()
	}
	writeJSON(w, stats)
}

func (s *Server) handleMailbox(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.bus.Registered(name) {
		http.Error(w, "unknown mailbox", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"name": name, "pending": s.bus.Pending(name)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with zerolog.
func requestLogger(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				log.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

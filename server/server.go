// Package server exposes the engine over HTTP: REST queries and submission
// under /api, a live fact stream on /ws, plus /health and /metrics.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/engine"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/logger"
)

// Server is the HTTP and WebSocket front of an Engine
type Server struct {
	engine *engine.Engine
	cfg    *am.Config
	logger *zap.SugaredLogger

	upgrader   websocket.Upgrader
	maxClients int
	router     http.Handler

	clients map[*Client]bool
	mu      sync.RWMutex

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpMu sync.Mutex
	http   *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a server around e. The engine's lifecycle stays with the caller.
func New(e *engine.Engine, cfg *am.Config, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:     e,
		cfg:        cfg,
		logger:     zap.NewNop().Sugar(),
		maxClients: cfg.Server.MaxClients,
		clients:    make(map[*Client]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxClients <= 0 {
		s.maxClients = DefaultMaxClients
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
	s.state.Store(int32(ServerStateRunning))
	s.router = s.routes()
	return s
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.GetServerAllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	if limit := s.cfg.Server.RateLimitPerMinute; limit > 0 {
		r.Use(httprate.LimitByIP(limit, time.Minute))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.engine.Metrics.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/facts", s.handleSubmitFact)
		r.Get("/facts/{entity_type}/{entity_id}", s.handleFactsForEntity)
		r.Get("/facts/{entity_type}/{entity_id}/{field}", s.handleCurrentValue)
		r.Get("/updates/recent", s.handleRecentChanges)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// requestLogger attaches the chi request id to the context logger and
// logs each request at debug level
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
		ctx = logger.WithComponent(ctx, "server")
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.FromContext(ctx, s.logger).Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			"status", ww.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

// ListenAndServe serves on the configured port until ctx is cancelled or
// Shutdown is called
func (s *Server) ListenAndServe(ctx context.Context) error {
	port := s.cfg.Server.Port
	if port <= 0 {
		port = am.DefaultServerPort
	}
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.WithHint(
			errors.Wrapf(err, "failed to listen on port %d", port),
			"set server.port in am.toml or pass --port",
		)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpMu.Lock()
	s.http = srv
	s.httpMu.Unlock()

	s.logger.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("Server shutdown error", logger.FieldError, err)
		}
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown drains WebSocket clients and stops the HTTP listener.
// Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(ServerStateRunning), int32(ServerStateDraining)) {
		return nil
	}
	s.logger.Infow("Server state changed", logger.FieldState, ServerStateDraining.String())

	// Write pumps observe ctx and close their connections
	s.cancel()

	var err error
	s.httpMu.Lock()
	srv := s.http
	s.httpMu.Unlock()
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = errors.Wrap(ctx.Err(), "timed out waiting for websocket clients")
		}
	}

	s.state.Store(int32(ServerStateStopped))
	s.logger.Infow("Server state changed", logger.FieldState, ServerStateStopped.String())
	return err
}

// State returns the lifecycle state
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

// ClientCount returns the number of connected WebSocket clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// register adds c unless the server is full or draining
func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != ServerStateRunning || len(s.clients) >= s.maxClients {
		return false
	}
	s.clients[c] = true
	s.wg.Add(1)
	return true
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !ok {
		return
	}
	defer s.wg.Done()
	if c.sub == nil {
		return
	}
	s.engine.Bus.Unsubscribe(c.sub)
	s.logger.Debugw("Client unregistered",
		"client_id", shortID(c.id),
		logger.FieldSubscriberID, c.sub.ID,
		logger.FieldDropped, c.sub.Dropped())
}

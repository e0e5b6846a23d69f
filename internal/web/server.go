package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/justestif/streaming-eras/internal/llm"
	"github.com/justestif/streaming-eras/internal/segment"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	// Request rate limit per client IP.
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	LLM            llm.Config
	Segment        segment.Config
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	Logger         zerolog.Logger
}

// Server is the HTTP server for the eras API.
type Server struct {
	router        chi.Router
	server        *http.Server
	store         *Store
	handlers      *Handlers
	sweepInterval time.Duration
	log           zerolog.Logger
}

// NewServer wires the store, pipeline, and handlers into an HTTP server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	store := NewStore(cfg.SessionTTL, cfg.Logger.With().Str("component", "store").Logger())
	namer := llm.NewNamer(cfg.LLM, cfg.Logger.With().Str("component", "llm").Logger())
	pipeline := NewPipeline(store, namer, cfg.Segment, cfg.Logger.With().Str("component", "pipeline").Logger())
	handlers := NewHandlers(store, pipeline, cfg.Logger.With().Str("component", "http").Logger())

	router := chi.NewRouter()
	s := &Server{
		router:        router,
		store:         store,
		handlers:      handlers,
		sweepInterval: cfg.SweepInterval,
		log:           cfg.Logger,
	}

	s.setupMiddleware(cfg.AllowedOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: 5 * time.Minute, // uploads can be large
		IdleTimeout: 90 * time.Second,
		// No WriteTimeout: the progress stream stays open for minutes and
		// enforces its own ceiling.
	}
	return s
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(httprate.Limit(
		rateLimitRequests,
		rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	))
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.Health)
	s.router.Post("/upload", s.handlers.Upload)
	s.router.Post("/process/{sessionID}", s.handlers.Process)
	s.router.Get("/progress/{sessionID}", s.handlers.ProgressStream)
	s.router.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/summary", s.handlers.Summary)
		r.Get("/eras", s.handlers.Eras)
		r.Get("/eras/{eraID}", s.handlers.EraDetail)
	})
}

// requestLogger logs one line per completed request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and the session sweeper, and handles graceful
// shutdown on interrupt signals.
func (s *Server) Run() error {
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go s.store.RunSweeper(sweepCtx, s.sweepInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Info().Msg("server stopped")
	return nil
}

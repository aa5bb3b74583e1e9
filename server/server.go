// Package server assembles the relay's HTTP surface: the chi router with its
// middleware chain, the webhook handler and its outbound clients, and the
// http.Server lifecycle.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/locale"
	"github.com/teilomillet/relay/server/circuitbreaker"
	"github.com/teilomillet/relay/server/completion"
	"github.com/teilomillet/relay/server/delivery"
	"github.com/teilomillet/relay/server/handlers"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Router handles HTTP routing
type Router struct {
	router chi.Router
}

// RouterOptions lists what the router serves.
type RouterOptions struct {
	Webhook      *handlers.WebhookHandler
	Health       http.Handler
	Metrics      *metrics.Metrics
	MetricsToken string
	Logger       *zap.Logger
}

// NewRouter creates the router with the relay's routes and middleware.
func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	if opts.Metrics != nil {
		r.Use(middleware.PrometheusMetrics(opts.Metrics))
	}
	r.Use(errors.ErrorHandler(logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrorWithType(w, "Not found", errors.NotFoundError, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrorWithType(w, "Method not allowed", errors.MethodNotAllowed, http.StatusMethodNotAllowed)
	})

	r.Get("/", handlers.Liveness)
	if opts.Webhook != nil {
		r.Get("/webhook", opts.Webhook.Verify)
		r.Post("/webhook", opts.Webhook.Receive)
	}
	if opts.Health != nil {
		r.Method(http.MethodGet, "/health", opts.Health)
	}
	if opts.Metrics != nil {
		r.With(middleware.Authentication(opts.MetricsToken)).
			Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return &Router{router: r}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = errors.DefaultLogger
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
	}
}

// New wires the complete relay from cfg: metrics, the optional circuit
// breaker, the completion and delivery clients, the webhook handler and the
// router.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = errors.DefaultLogger
	}

	m := metrics.NewMetrics()
	catalog := locale.For(cfg.Locale)

	breaker := circuitbreaker.New("completion", cfg.CircuitBreaker, logger.Named("circuitbreaker"), m.Registry())

	completer := completion.NewClient(cfg.Completion, catalog,
		completion.WithLogger(logger.Named("completion")),
		completion.WithMetrics(m),
		completion.WithBreaker(breaker),
	)
	sender := delivery.NewClient(cfg.Delivery, catalog,
		delivery.WithLogger(logger.Named("delivery")),
		delivery.WithMetrics(m),
	)

	webhook := handlers.NewWebhookHandler(cfg.Webhook, completer, sender, m, logger.Named("webhook"))
	health := handlers.NewHealth(
		cfg.Webhook.VerifyToken != "",
		cfg.Delivery.PageAccessToken != "",
		cfg.Completion.APIKey != "",
		cfg.Completion.Model != "",
	)

	router := NewRouter(RouterOptions{
		Webhook:      webhook,
		Health:       health,
		Metrics:      m,
		MetricsToken: cfg.Server.MetricsToken,
		Logger:       logger,
	})

	return NewServer(cfg.Server, router, logger), nil
}

// Listen binds the server's address. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start serves until ctx is done, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server started", zap.String("address", s.Addr()))
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Info("Shutting down server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Run builds the relay from cfg and serves until ctx is done.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	srv, err := New(cfg, logger)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// Package api exposes a running orchestrator over HTTP and WebSocket so a
// lab operator can watch progress and pause, resume, cancel or end the run
// from another machine.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/randalmurphal/hilo/internal/db"
	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/experiment"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/state"
)

// DefaultAckTimeout bounds how long a command request waits for the worker.
const DefaultAckTimeout = 5 * time.Second

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// Run is the live run a server controls. *orchestrator.Orchestrator
// implements it.
type Run interface {
	RunID() string
	State() *state.ExecutionState
	Progress() progress.Estimate
	Experiments() []experiment.Experiment
}

// History reads persisted runs and their event logs. *db.DB implements it.
type History interface {
	GetRun(ctx context.Context, id string) (*db.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*db.Run, error)
	QueryEvents(ctx context.Context, opts db.QueryEventsOptions) ([]db.EventLog, error)
}

// Server is the remote control surface.
type Server struct {
	echo       *echo.Echo
	run        Run
	history    History
	publisher  events.Publisher
	ackTimeout time.Duration
	ws         *WSHandler
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRun attaches the live run. Without one, status and command routes
// answer 404.
func WithRun(r Run) Option {
	return func(s *Server) { s.run = r }
}

// WithHistory serves persisted runs and events.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithPublisher streams live events over /api/ws.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithAckTimeout sets how long command requests wait for acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ackTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server and registers its routes.
func New(opts ...Option) *Server {
	s := &Server{
		ackTimeout: DefaultAckTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewNopPublisher()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	s.echo = e
	s.ws = NewWSHandler(s, s.logger)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/api")

	g.GET("/health", s.health)

	// Live run
	g.GET("/status", s.status)
	g.GET("/experiments", s.experiments)
	g.GET("/commands", s.commandHistory)
	g.POST("/commands/:command", s.issueCommand)
	g.GET("/ws", echo.WrapHandler(s.ws))

	// History
	g.GET("/runs", s.listRuns)
	g.GET("/runs/:id", s.getRun)
	g.GET("/runs/:id/events", s.runEvents)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.ws.CloseAll()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

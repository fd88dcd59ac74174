package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/logging"
	"stockwatch/internal/metrics"
	"stockwatch/internal/statestore"
)

// Store is the read side of the state store.
type Store interface {
	Ping(ctx context.Context) error
	CountItems(ctx context.Context) (int, error)
	LatestRun(ctx context.Context) (*catalog.Run, error)
	GetRun(ctx context.Context, id int64) (*catalog.Run, error)
	ListRuns(ctx context.Context, limit int) ([]catalog.Run, error)
	ListChanges(ctx context.Context, filter statestore.ChangeFilter) ([]catalog.Change, error)
	ListItems(ctx context.Context, filter statestore.ItemFilter) ([]catalog.Item, int, error)
}

// Server is the status HTTP server.
type Server struct {
	app    *fiber.App
	addr   string
	store  Store
	logger *slog.Logger
}

// New wires routes onto a fiber app. m may be nil, in which case /metrics is
// not mounted.
func New(cfg *config.Config, store Store, m *metrics.Emitter, logger *slog.Logger) *Server {
	s := &Server{
		addr:   cfg.Metrics.Addr,
		store:  store,
		logger: logging.NewComponentLogger(logger, "status-api"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "stockwatch",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.accessLog)

	s.app.Get("/healthz", s.handleHealth)
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	api := s.app.Group("/api", bearerAuth(cfg.Metrics.Token))
	api.Get("/runs", s.handleRuns)
	api.Get("/runs/:id", s.handleRun)
	api.Get("/changes", s.handleChanges)
	api.Get("/items", s.handleItems)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status api listen: %w", err)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(listener)
	}()
	s.logger.Info("status api listening", logging.String("address", listener.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		s.logger.Warn("status api shutdown incomplete", logging.Error(err))
	}
	return <-errCh
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	s.logger.Debug("request served",
		logging.String("method", c.Method()),
		logging.String("path", c.Path()),
		logging.Int("status", c.Response().StatusCode()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", c.Path()),
			logging.Error(err),
		)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

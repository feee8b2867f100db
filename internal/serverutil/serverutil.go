// Package serverutil serves the live event view of a session over HTTP.
package serverutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/report"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig provides default server configuration values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            "8044",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// EventSource is what the web view reads from.
type EventSource interface {
	Since(seq int64) []report.Envelope
	Summary() report.WebSummary
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewEventApp builds the routes of the live view:
//
//	GET /events?since=N  events after sequence number N
//	GET /summary         counts and terminal state so far
//	GET /health
func NewEventApp(src EventSource, config ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		DisableStartupMessage: true,
		AppName:               "rdist",
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(errorResponse{Error: err.Error()})
		},
	})
	app.Use(fiberrecover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/events", func(c *fiber.Ctx) error {
		since := int64(0)
		if raw := c.Query("since"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("bad since %q", raw))
			}
			since = v
		}
		return c.JSON(src.Since(since))
	})
	app.Get("/summary", func(c *fiber.Ctx) error {
		return c.JSON(src.Summary())
	})
	return app
}

// RunServer serves app until ctx ends, then shuts it down gracefully.
func RunServer(ctx context.Context, app *fiber.App, config ServerConfig) error {
	logger := lg.FromContext(ctx)
	if config.Port == "" {
		config.Port = os.Getenv("RDIST_SERVER_PORT")
		if config.Port == "" {
			config.Port = DefaultServerConfig().Port
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", lg.String("port", config.Port))
		errCh <- app.Listen(":" + config.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server stopping")
	if err := app.ShutdownWithTimeout(config.ShutdownTimeout); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/api/handlers"
	"github.com/policy-graphrag/backend/internal/metrics"
	"github.com/policy-graphrag/backend/internal/middleware/ratelimit"
	"github.com/policy-graphrag/backend/internal/middleware/security"
	"github.com/policy-graphrag/backend/internal/middleware/validation"
	appLogger "github.com/policy-graphrag/backend/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		appLogger.Info("Starting GraphRAG API server")

		p := buildPipeline(cmd.Context(), cfg)
		defer p.Close()

		app := fiber.New(fiber.Config{
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			BodyLimit:    cfg.Server.BodyLimit,
		})

		app.Use(recover.New())
		app.Use(logger.New())
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Request-ID",
			AllowMethods: "GET, POST, OPTIONS",
		}))
		app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Server.Development}))

		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
			Logger:               appLogger.GetLogger(),
		})
		defer limiter.Stop()

		queryHandler := handlers.NewQueryHandler(p.orchestrator, p.checks, p.budget+5*time.Second)

		api := app.Group("/api/v1")
		api.Post("/query",
			limiter.Middleware(),
			validation.QueryMiddleware(validation.Config{
				MaxQueryLength: cfg.Server.MaxQueryLength,
				Logger:         appLogger.GetLogger(),
			}),
			queryHandler.HandleQuery,
		)
		api.Get("/cache/stats", queryHandler.CacheStats)
		api.Get("/health", queryHandler.Health)
		api.Get("/ready", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"status": "ready",
			})
		})
		app.Get("/metrics", metrics.MetricsHandler())

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		appLogger.Info("Server starting", zap.String("address", addr))

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Listen(addr)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-quit:
		}

		appLogger.Info("Server shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			appLogger.Warn("Shutdown incomplete", zap.Error(err))
		}
		appLogger.Info("Server stopped")
		return nil
	},
}

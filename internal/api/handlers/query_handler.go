package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/middleware/validation"
	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/internal/orchestrator"
	"github.com/policy-graphrag/backend/pkg/logger"
)

// Processor is the pipeline entry point the handler serves.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) *orchestrator.Response
	CacheStats(ctx context.Context) (models.CacheStats, bool)
}

// HealthCheck reports whether a dependency answers.
type HealthCheck func(ctx context.Context) error

type QueryHandler struct {
	processor Processor
	checks    map[string]HealthCheck
	timeout   time.Duration
}

// NewQueryHandler serves the pipeline. timeout caps the whole request and
// should cover the sum of the stage budgets.
func NewQueryHandler(processor Processor, checks map[string]HealthCheck, timeout time.Duration) *QueryHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &QueryHandler{
		processor: processor,
		checks:    checks,
		timeout:   timeout,
	}
}

// HandleQuery expects validation.QueryMiddleware to have run first.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsKey).(orchestrator.Request)
	if !ok {
		logger.Error("Query request missing from context", zap.String("path", c.Path()))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	resp := h.processor.Process(ctx, req)
	return c.JSON(resp)
}

func (h *QueryHandler) CacheStats(c *fiber.Ctx) error {
	stats, enabled := h.processor.CacheStats(c.UserContext())
	return c.JSON(fiber.Map{
		"enabled": enabled,
		"stats":   stats,
	})
}

// Health runs every dependency check; any failure makes the service
// degraded but still answering.
func (h *QueryHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := "healthy"
	deps := make(fiber.Map, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"dependencies": deps,
		"time":         time.Now().Unix(),
	})
}

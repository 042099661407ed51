package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/metrics"
	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/logger"
)

// Stage is one step of the pipeline and doubles as its state name.
type Stage string

const (
	StageCacheLookup Stage = "CACHE_LOOKUP"
	StageAnalysis    Stage = "QUERY_ANALYSIS"
	StageSearch      Stage = "SEARCH"
	StageGeneration  Stage = "RESPONSE_GENERATION"
)

// State is the request lifecycle position.
type State string

const (
	StateStarted   State = "STARTED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

type StageMetrics struct {
	Stage     Stage         `json:"stage"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	FellBack  bool          `json:"fell_back"`
	Error     string        `json:"error,omitempty"`
}

type OrchestrationMetrics struct {
	TotalDuration time.Duration  `json:"total_duration"`
	Stages        []StageMetrics `json:"stages"`
}

type outcome[T any] struct {
	value T
	err   error
}

// runStage runs fn under budget. A timeout or panic is returned as an error;
// the abandoned call keeps running until it notices its context.
func runStage[T any](ctx context.Context, requestID string, stage Stage, budget time.Duration, fn func(context.Context) (T, error)) (T, StageMetrics, error) {
	m := StageMetrics{Stage: stage, StartTime: time.Now()}
	logger.Debug("Stage started", zap.String("request_id", requestID), zap.String("stage", string(stage)))

	stageCtx := ctx
	cancel := func() {}
	if budget > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Stage panicked",
					zap.String("request_id", requestID),
					zap.String("stage", string(stage)),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				var zero T
				done <- outcome[T]{value: zero, err: fmt.Errorf("%w: %v", models.ErrStagePanic, r)}
			}
		}()
		v, err := fn(stageCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	var out outcome[T]
	select {
	case out = <-done:
	case <-stageCtx.Done():
		out.err = fmt.Errorf("%w: %s after %s: %v", models.ErrStageTimeout, stage, budget, stageCtx.Err())
	}

	m.EndTime = time.Now()
	m.Duration = m.EndTime.Sub(m.StartTime)
	m.Success = out.err == nil
	status := "success"
	if out.err != nil {
		m.Error = out.err.Error()
		status = "failure"
	}
	metrics.StageDuration.WithLabelValues(string(stage), status).Observe(m.Duration.Seconds())

	logger.Debug("Stage finished",
		zap.String("request_id", requestID),
		zap.String("stage", string(stage)),
		zap.Duration("duration", m.Duration),
		zap.Bool("success", m.Success),
	)
	return out.value, m, out.err
}

package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("graph store down")

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errDown })
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("neo4j", Config{FailureThreshold: 3, Timeout: time.Hour})

	failN(t, cb, 3)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("milvus", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		MaxRequests:      1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	failN(t, cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_CancellationIsNotFailure(t *testing.T) {
	cb := NewCircuitBreaker("embedding", Config{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_ExpiredContextNotAdmitted(t *testing.T) {
	cb := NewCircuitBreaker("neo4j", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, cb.Counts().Requests)
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("neo4j", Config{FailureThreshold: 1})

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

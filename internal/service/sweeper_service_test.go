package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/rag/retry"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	calls   atomic.Int32
	idle    atomic.Int32
	cleared int
	err     error
}

func (c *countingCleaner) ClearInactiveSessions(_ context.Context, maxIdleMinutes int) (int, error) {
	c.calls.Add(1)
	c.idle.Store(int32(maxIdleMinutes))
	return c.cleared, c.err
}

func TestSweepClearsSessionsAndFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-48 * time.Hour)
	tracker := retry.NewTracker(logger.NewNopLogger(), retry.WithClock(func() time.Time { return clock }))
	tracker.RecordFailure("old-doc", errors.New("timeout"))
	clock = now

	cleaner := &countingCleaner{cleared: 2}
	sweeper := NewSessionSweeper(cleaner, tracker, SweeperConfig{MaxIdleMinutes: 45}, logger.NewNopLogger())

	result := sweeper.Sweep(context.Background())
	assert.Equal(t, SweepResult{Sessions: 2, Failures: 1}, result)
	assert.Equal(t, int32(45), cleaner.idle.Load())
}

func TestSweepContinuesAfterSessionError(t *testing.T) {
	cleaner := &countingCleaner{err: errors.New("db down")}
	sweeper := NewSessionSweeper(cleaner, nil, SweeperConfig{}, logger.NewNopLogger())

	assert.Equal(t, SweepResult{}, sweeper.Sweep(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	cleaner := &countingCleaner{}
	sweeper := NewSessionSweeper(cleaner, nil, SweeperConfig{Interval: 5 * time.Millisecond}, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

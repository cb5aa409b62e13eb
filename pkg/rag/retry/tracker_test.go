package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"ai-context-pipeline/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailureSkipsAtMaxRetries(t *testing.T) {
	tracker := NewTracker(logger.NewNopLogger(), WithMaxRetries(3))

	assert.False(t, tracker.RecordFailure("doc-1", errors.New("timeout")))
	assert.False(t, tracker.RecordFailure("doc-1", errors.New("timeout")))
	assert.True(t, tracker.RecordFailure("doc-1", errors.New("timeout")))
	assert.True(t, tracker.ShouldSkip("doc-1"))
	assert.False(t, tracker.ShouldSkip("doc-2"))
}

func TestResetFailuresRestartsCount(t *testing.T) {
	tracker := NewTracker(logger.NewNopLogger(), WithMaxRetries(3))

	tracker.RecordFailure("doc-1", errors.New("boom"))
	tracker.RecordFailure("doc-1", errors.New("boom"))
	tracker.ResetFailures("doc-1")

	assert.Nil(t, tracker.GetFailureInfo("doc-1"))
	assert.False(t, tracker.RecordFailure("doc-1", errors.New("boom")))

	info := tracker.GetFailureInfo("doc-1")
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Count)
}

func TestErrorHistoryIsBounded(t *testing.T) {
	tracker := NewTracker(logger.NewNopLogger(), WithMaxRetries(100))

	for i := 0; i < 25; i++ {
		tracker.RecordFailure("doc-1", fmt.Errorf("failure %d", i))
	}

	info := tracker.GetFailureInfo("doc-1")
	require.NotNil(t, info)
	assert.Equal(t, 25, info.Count)
	assert.Len(t, info.Errors, maxErrorHistory)
	assert.Equal(t, "failure 24", info.LastError)
	assert.Equal(t, "failure 15", info.Errors[0].Message)
}

func TestClearOldFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tracker := NewTracker(logger.NewNopLogger(), WithClock(clock))

	tracker.RecordFailure("old", errors.New("timeout"))
	now = now.Add(25 * time.Hour)
	tracker.RecordFailure("fresh", errors.New("timeout"))

	cleared := tracker.ClearOldFailures(24 * time.Hour)

	assert.Equal(t, 1, cleared)
	assert.Nil(t, tracker.GetFailureInfo("old"))
	assert.NotNil(t, tracker.GetFailureInfo("fresh"))
}

func TestStats(t *testing.T) {
	tracker := NewTracker(logger.NewNopLogger(), WithMaxRetries(2))
	tracker.RecordFailure("a", errors.New("x"))
	tracker.RecordFailure("a", errors.New("x"))
	tracker.RecordFailure("b", errors.New("x"))

	stats := tracker.Stats()
	assert.Equal(t, 2, stats.TrackedDocuments)
	assert.Equal(t, 1, stats.SkippedDocuments)
	assert.Equal(t, 3, stats.TotalFailures)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"request timeout after 30s", true},
		{"RATE_LIMITED by provider", true},
		{"connection refused", true},
		{"ECONNRESET", true},
		{"getaddrinfo ENOTFOUND api.example.com", true},
		{"network unreachable", true},
		{"Invalid document format", false},
		{"401 Unauthorized", false},
		{"403 Forbidden", false},
		{"document not found", false},
		{"schema validation failed", false},
		{"something odd happened", true},
	}

	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(errors.New(tt.err)))
		})
	}
}

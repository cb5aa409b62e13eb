package service

import (
	"context"
	"time"

	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/rag/retry"
)

const sweeperModule = "SWEEPER"

// SessionCleaner deactivates idle conversations.
type SessionCleaner interface {
	ClearInactiveSessions(ctx context.Context, maxIdleMinutes int) (int, error)
}

type SweepResult struct {
	Sessions int
	Failures int
}

type SweeperConfig struct {
	Interval       time.Duration
	MaxIdleMinutes int
	FailureTTL     time.Duration
}

// SessionSweeper periodically expires idle sessions and stale document
// failure records.
type SessionSweeper struct {
	sessions SessionCleaner
	failures *retry.Tracker
	cfg      SweeperConfig
	logger   logger.ILogger
}

func NewSessionSweeper(sessions SessionCleaner, failures *retry.Tracker, cfg SweeperConfig, log logger.ILogger) *SessionSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = 24 * time.Hour
	}
	return &SessionSweeper{sessions: sessions, failures: failures, cfg: cfg, logger: log}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *SessionSweeper) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	cleared, err := s.sessions.ClearInactiveSessions(ctx, s.cfg.MaxIdleMinutes)
	if err != nil {
		s.logger.Error(sweeperModule, "Failed to clear inactive sessions", map[string]interface{}{
			"error": err.Error(),
		})
	}
	result.Sessions = cleared

	if s.failures != nil {
		result.Failures = s.failures.ClearOldFailures(s.cfg.FailureTTL)
	}

	if result.Sessions > 0 || result.Failures > 0 {
		s.logger.Debug(sweeperModule, "Sweep finished", map[string]interface{}{
			"sessions": result.Sessions,
			"failures": result.Failures,
		})
	}
	return result
}

package retry

import (
	"strings"
	"sync"
	"time"

	"ai-context-pipeline/internal/pkg/logger"
)

const (
	DefaultMaxRetries = 3
	DefaultFailureTTL = 24 * time.Hour

	// maxErrorHistory bounds FailureRecord.Errors per document.
	maxErrorHistory = 10
)

var nonRetryablePatterns = []string{
	"invalid",
	"unauthorized",
	"forbidden",
	"not found",
	"validation failed",
}

var retryablePatterns = []string{
	"timeout",
	"rate_limited",
	"rate limit",
	"connection",
	"reset",
	"enotfound",
	"network",
}

// ErrorEntry is one recorded failure message.
type ErrorEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureRecord tracks consecutive indexing failures of a single document.
type FailureRecord struct {
	Count     int          `json:"count"`
	LastError string       `json:"lastError"`
	Timestamp time.Time    `json:"timestamp"`
	Errors    []ErrorEntry `json:"errors"`
}

// Stats summarizes the tracker contents.
type Stats struct {
	TrackedDocuments int `json:"trackedDocuments"`
	SkippedDocuments int `json:"skippedDocuments"`
	TotalFailures    int `json:"totalFailures"`
}

// Tracker counts per-document failures within a process. It is not durable:
// it only gates retries inside a single indexing run.
type Tracker struct {
	mu         sync.Mutex
	failures   map[string]*FailureRecord
	maxRetries int
	now        func() time.Time
	logger     logger.ILogger
}

type Option func(*Tracker)

func WithMaxRetries(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(log logger.ILogger, opts ...Option) *Tracker {
	t := &Tracker{
		failures:   make(map[string]*FailureRecord),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		logger:     log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) MaxRetries() int {
	return t.maxRetries
}

// RecordFailure increments the failure count for documentID and reports
// whether the document should now be skipped.
func (t *Tracker) RecordFailure(documentID string, err error) bool {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	record, ok := t.failures[documentID]
	if !ok {
		record = &FailureRecord{}
		t.failures[documentID] = record
	}

	record.Count++
	record.LastError = message
	record.Timestamp = now
	record.Errors = append(record.Errors, ErrorEntry{Message: message, Timestamp: now})
	if len(record.Errors) > maxErrorHistory {
		record.Errors = record.Errors[len(record.Errors)-maxErrorHistory:]
	}

	shouldSkip := record.Count >= t.maxRetries

	t.logger.Warn("RETRY", "Document processing failed", map[string]interface{}{
		"document_id": documentID,
		"attempt":     record.Count,
		"max_retries": t.maxRetries,
		"will_skip":   shouldSkip,
		"error":       message,
	})

	return shouldSkip
}

// ShouldSkip reports whether documentID exhausted its retries.
func (t *Tracker) ShouldSkip(documentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.failures[documentID]
	return ok && record.Count >= t.maxRetries
}

// ResetFailures forgets documentID after a successful run.
func (t *Tracker) ResetFailures(documentID string) {
	t.mu.Lock()
	_, existed := t.failures[documentID]
	delete(t.failures, documentID)
	t.mu.Unlock()

	if existed {
		t.logger.Info("RETRY", "Document recovered, failure count reset", map[string]interface{}{
			"document_id": documentID,
		})
	}
}

// GetFailureInfo returns a copy of the record, or nil.
func (t *Tracker) GetFailureInfo(documentID string) *FailureRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.failures[documentID]
	if !ok {
		return nil
	}
	cp := *record
	cp.Errors = append([]ErrorEntry(nil), record.Errors...)
	return &cp
}

// ClearOldFailures drops records whose last failure is older than maxAge and
// returns how many were dropped. Meant for a periodic external trigger.
func (t *Tracker) ClearOldFailures(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultFailureTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	cleared := 0
	for id, record := range t.failures {
		if record.Timestamp.Before(cutoff) {
			delete(t.failures, id)
			cleared++
		}
	}

	if cleared > 0 {
		t.logger.Info("RETRY", "Cleared aged failure records", map[string]interface{}{
			"cleared":   cleared,
			"remaining": len(t.failures),
		})
	}
	return cleared
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{TrackedDocuments: len(t.failures)}
	for _, record := range t.failures {
		s.TotalFailures += record.Count
		if record.Count >= t.maxRetries {
			s.SkippedDocuments++
		}
	}
	return s
}

// IsRetryableError classifies err by message. Unknown errors are retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return true
	}
	message := strings.ToLower(err.Error())

	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(message, pattern) {
			return false
		}
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return true
}

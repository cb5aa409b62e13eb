package confidence

import (
	"math"

	"ai-context-pipeline/internal/pkg/logger"
)

type Level string

const (
	LevelBlocked Level = "blocked"
	LevelVeryLow Level = "very_low"
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
)

// MediumThreshold is the fixed boundary between medium and high.
const MediumThreshold = 0.7

const BlockReasonTooLow = "confidence_too_low"

const BlockedMessage = "I can't answer this reliably from the available sources. " +
	"Try rephrasing the question or adding documents that cover this topic."

var levelMessages = map[Level]string{
	LevelVeryLow: "**Low confidence:** the sources only partly support this answer. Please verify it before relying on it.",
	LevelLow:     "_Note: parts of this answer could not be fully verified against the sources._",
	LevelMedium:  "_Some details in this answer are inferred from related material._",
}

// Thresholds are ordered: Block < Warn < Disclaimer < MediumThreshold.
type Thresholds struct {
	Block      float64
	Warn       float64
	Disclaimer float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Block: 0.3, Warn: 0.5, Disclaimer: 0.6}
}

type Options struct {
	EnableBlocking   bool
	AddWarnings      bool
	LogLowConfidence bool
}

func DefaultOptions() Options {
	return Options{EnableBlocking: true, AddWarnings: true, LogLowConfidence: true}
}

// Validation is the validation state attached to an answer. Blocking by
// policy is recorded here so it stays distinguishable from a generation
// failure.
type Validation struct {
	Passed      bool     `json:"passed"`
	Blocked     bool     `json:"blocked"`
	BlockReason string   `json:"blockReason,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Answer is the confidence-processed answer. The underscore-prefixed fields
// are an audit side channel and must survive serialization.
type Answer struct {
	Answer     string                 `json:"answer"`
	Confidence float64                `json:"confidence"`
	Validation *Validation            `json:"validation,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	ConfidenceBlocked bool   `json:"_confidenceBlocked"`
	ConfidenceLevel   Level  `json:"_confidenceLevel"`
	OriginalAnswer    string `json:"_originalAnswer,omitempty"`
}

type Handler struct {
	thresholds Thresholds
	logger     logger.ILogger
}

func NewHandler(thresholds Thresholds, log logger.ILogger) *Handler {
	return &Handler{thresholds: thresholds, logger: log}
}

// GetLevel bands score against the thresholds.
func (h *Handler) GetLevel(score float64) Level {
	switch {
	case score < h.thresholds.Block:
		return LevelBlocked
	case score < h.thresholds.Warn:
		return LevelVeryLow
	case score < h.thresholds.Disclaimer:
		return LevelLow
	case score < MediumThreshold:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func (h *Handler) ShouldBlock(score float64) bool {
	return h.GetLevel(score) == LevelBlocked
}

// ProcessConfidence tags answer with its level and applies the blocking or
// disclaimer policy in place. It must run after every other validator since
// a block replaces the whole answer text.
func (h *Handler) ProcessConfidence(answer *Answer, opts Options) *Answer {
	if answer == nil {
		return nil
	}

	answer.Confidence = sanitizeScore(answer.Confidence)
	level := h.GetLevel(answer.Confidence)
	answer.ConfidenceLevel = level

	if opts.LogLowConfidence && level != LevelHigh {
		h.logger.Warn("CONFIDENCE", "Low confidence answer", map[string]interface{}{
			"confidence": answer.Confidence,
			"level":      string(level),
		})
	}

	if opts.EnableBlocking && level == LevelBlocked {
		answer.OriginalAnswer = answer.Answer
		answer.Answer = BlockedMessage
		answer.ConfidenceBlocked = true
		if answer.Validation == nil {
			answer.Validation = &Validation{}
		}
		answer.Validation.Passed = false
		answer.Validation.Blocked = true
		answer.Validation.BlockReason = BlockReasonTooLow
		return answer
	}

	if !opts.AddWarnings {
		return answer
	}

	message, ok := levelMessages[level]
	if !ok {
		return answer
	}

	if level == LevelVeryLow {
		answer.Answer = message + "\n\n" + answer.Answer
	} else {
		answer.Answer = answer.Answer + "\n\n" + message
	}
	return answer
}

// sanitizeScore maps non-finite scores to 0 and clamps into [0, 1] so the
// answer always serializes.
func sanitizeScore(score float64) float64 {
	if math.IsNaN(score) || math.IsInf(score, -1) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

package quality

import (
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/rag/citation"
	"ai-context-pipeline/pkg/rag/confidence"
	"ai-context-pipeline/pkg/rag/output"
)

type Options struct {
	Citation   citation.Options
	Output     output.Options
	Confidence confidence.Options
	Retry      output.RetryOptions
}

func DefaultOptions() Options {
	return Options{
		Citation:   citation.DefaultOptions(),
		Output:     output.DefaultOptions(),
		Confidence: confidence.DefaultOptions(),
	}
}

// FinalAnswer is what the response-formatting layer receives.
type FinalAnswer struct {
	*confidence.Answer

	Citations   *citation.ValidationResult `json:"citations"`
	Output      *output.ValidationResult   `json:"output"`
	Coverage    citation.Coverage          `json:"coverage"`
	ShouldRetry bool                       `json:"shouldRetry"`
}

// Pipeline runs citation validation, output validation and the confidence
// policy in that order.
type Pipeline struct {
	citations  *citation.Validator
	outputs    *output.Validator
	confidence *confidence.Handler
	opts       Options
	logger     logger.ILogger
}

func NewPipeline(
	citations *citation.Validator,
	outputs *output.Validator,
	confidenceHandler *confidence.Handler,
	opts Options,
	log logger.ILogger,
) *Pipeline {
	return &Pipeline{
		citations:  citations,
		outputs:    outputs,
		confidence: confidenceHandler,
		opts:       opts,
		logger:     log,
	}
}

// Finalize validates and repairs a generated answer.
func (p *Pipeline) Finalize(rawAnswer string, sources []citation.Source, score float64) *FinalAnswer {
	citationResult := p.citations.ProcessCitations(rawAnswer, sources, p.opts.Citation)
	outputResult := p.outputs.ProcessOutput(citationResult.Text, p.opts.Output)

	warnings := append([]string{}, outputResult.Warnings...)
	warnings = append(warnings, citationResult.Issues...)

	answer := &confidence.Answer{
		Answer:     outputResult.Content,
		Confidence: score,
		Validation: &confidence.Validation{
			Passed:   outputResult.Valid && citationResult.Valid,
			Errors:   outputResult.Errors,
			Warnings: warnings,
		},
		Metadata: map[string]interface{}{
			"citationCount":  outputResult.Metadata.CitationCount,
			"wordCount":      outputResult.Metadata.WordCount,
			"characterCount": outputResult.Metadata.CharacterCount,
			"modified":       citationResult.Modified || outputResult.Modified,
		},
	}

	answer = p.confidence.ProcessConfidence(answer, p.opts.Confidence)

	final := &FinalAnswer{
		Answer:    answer,
		Citations: citationResult,
		Output:    outputResult,
		Coverage:  citation.AnalyzeCitationCoverage(outputResult.Content),
	}

	// A policy block is not a generation failure; regenerating will not help.
	if !answer.ConfidenceBlocked {
		final.ShouldRetry = output.ShouldRetryOutput(outputResult, p.opts.Retry)
	}

	p.logger.Info("QUALITY", "Answer finalized", map[string]interface{}{
		"output":       output.Summary(outputResult),
		"orphans":      citationResult.InvalidCitations,
		"level":        string(answer.ConfidenceLevel),
		"blocked":      answer.ConfidenceBlocked,
		"should_retry": final.ShouldRetry,
		"coverage":     final.Coverage.Coverage,
	})

	return final
}

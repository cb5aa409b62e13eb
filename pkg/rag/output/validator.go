package output

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"ai-context-pipeline/internal/pkg/logger"
)

const (
	DefaultMinLength = 10
	DefaultMaxLength = 10000

	truncationSuffix = "..."

	shortResponseChars     = 50
	uncertainBriefChars    = 200
	repetitionThreshold    = 0.3
	minSentencesRepetition = 3

	codeFence = "```"
)

var (
	citationPattern = regexp.MustCompile(`(?i)\[sources?\s+\d+`)

	codeBlockOnlyPattern = regexp.MustCompile("^```[\\s\\S]*```$")
	errorTokenPattern    = regexp.MustCompile(`^(undefined|null|NaN|error|Error:?)$`)
	stringifiedPattern   = regexp.MustCompile(`^(\[object [A-Za-z]+\]|map\[.*\]|&?\{.*\})$`)
	openingTagPattern    = regexp.MustCompile(`^<([a-zA-Z][\w-]*)[^>]*>`)
	tagPattern           = regexp.MustCompile(`<(/?)([a-zA-Z][\w-]*)[^>]*?(/?)>`)

	apologyPattern     = regexp.MustCompile(`(?i)^(i'?m sorry|i apologi[sz]e|sorry|unfortunately|my apologies)`)
	uncertaintyPattern = regexp.MustCompile(`(?i)(i don'?t know|i'?m not sure|i cannot|i can'?t (find|answer)|no information|not enough information|unable to (find|answer))`)

	roleMarkerPattern     = regexp.MustCompile(`(?i)^\s*(assistant|ai|bot)\s*:\s*`)
	trailingMarkerPattern = regexp.MustCompile(`(?i)\s*(\.\.\.|…|\[continued\]|\(continued\)|\[truncated\]|\(truncated\))\s*$`)
	excessNewlinePattern  = regexp.MustCompile(`\n{3,}`)
	sentenceSplitPattern  = regexp.MustCompile(`[.!?]+`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
)

type Options struct {
	Strict     bool
	AllowEmpty bool
	MinLength  int
	MaxLength  int
}

func DefaultOptions() Options {
	return Options{MinLength: DefaultMinLength, MaxLength: DefaultMaxLength}
}

type Metadata struct {
	HasContent     bool `json:"hasContent"`
	CitationCount  int  `json:"citationCount"`
	WordCount      int  `json:"wordCount"`
	CharacterCount int  `json:"characterCount"`
}

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Content  string   `json:"content"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Metadata Metadata `json:"metadata"`
	Modified bool     `json:"modified"`
}

type RetryOptions struct {
	RetryOnWarnings        bool
	MaxWarningsBeforeRetry int
}

// Validator is the schema and heuristic gate for generated answer text.
type Validator struct {
	logger logger.ILogger
}

func NewValidator(log logger.ILogger) *Validator {
	return &Validator{logger: log}
}

// ValidateOutput checks content against opts. Over-long content is truncated
// even though the result is invalid, so callers always get bounded text.
func (v *Validator) ValidateOutput(content interface{}, opts Options) *ValidationResult {
	opts = withDefaults(opts)
	result := &ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	if content == nil {
		if !opts.AllowEmpty {
			result.Errors = append(result.Errors, "Content is null or undefined")
		}
		return v.finish(result)
	}

	text, ok := content.(string)
	if !ok {
		text = fmt.Sprintf("%v", content)
		result.Modified = true
		result.Errors = append(result.Errors, fmt.Sprintf("Content must be a string, got %T", content))
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != text {
		result.Modified = true
	}
	result.Content = trimmed

	if trimmed == "" {
		if !opts.AllowEmpty {
			result.Errors = append(result.Errors, "Content is empty")
		}
		return v.finish(result)
	}

	charCount := utf8.RuneCountInString(trimmed)
	result.Metadata = Metadata{
		HasContent:     true,
		CitationCount:  len(citationPattern.FindAllStringIndex(trimmed, -1)),
		WordCount:      len(strings.Fields(trimmed)),
		CharacterCount: charCount,
	}

	if charCount < opts.MinLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Content too short: %d characters (minimum %d)", charCount, opts.MinLength))
	}
	if charCount > opts.MaxLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Content too long: %d characters (maximum %d)", charCount, opts.MaxLength))
		result.Content = truncate(trimmed, opts.MaxLength)
		result.Modified = true
	}

	if reason := blockedReason(trimmed); reason != "" {
		result.Errors = append(result.Errors, reason)
		return v.finish(result)
	}

	for _, issue := range qualityIssues(trimmed, result.Metadata) {
		if opts.Strict {
			result.Errors = append(result.Errors, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
	}

	return v.finish(result)
}

// ProcessOutput strips role markers and trailing incompleteness markers,
// collapses blank-line runs, then validates.
func (v *Validator) ProcessOutput(content interface{}, opts Options) *ValidationResult {
	text, ok := content.(string)
	if !ok {
		return v.ValidateOutput(content, opts)
	}

	cleaned := roleMarkerPattern.ReplaceAllString(text, "")
	cleaned = trailingMarkerPattern.ReplaceAllString(cleaned, "")
	cleaned = excessNewlinePattern.ReplaceAllString(cleaned, "\n\n")

	result := v.ValidateOutput(cleaned, opts)
	if strings.TrimSpace(cleaned) != strings.TrimSpace(text) {
		result.Modified = true
	}
	return result
}

// ShouldRetryOutput tells the generation loop whether to regenerate.
func ShouldRetryOutput(result *ValidationResult, opts RetryOptions) bool {
	if result == nil || !result.Valid || len(result.Errors) > 0 {
		return true
	}
	if opts.RetryOnWarnings {
		threshold := opts.MaxWarningsBeforeRetry
		if threshold <= 0 {
			threshold = 3
		}
		return len(result.Warnings) >= threshold
	}
	return false
}

// Summary renders a one-line diagnostic for logs.
func Summary(result *ValidationResult) string {
	if result == nil {
		return "no result"
	}
	status := "valid"
	if !result.Valid {
		status = "invalid"
	}
	return fmt.Sprintf("%s: %d errors, %d warnings, %d words, %d citations",
		status, len(result.Errors), len(result.Warnings), result.Metadata.WordCount, result.Metadata.CitationCount)
}

func (v *Validator) finish(result *ValidationResult) *ValidationResult {
	result.Valid = len(result.Errors) == 0
	if !result.Valid {
		v.logger.Warn("OUTPUT", "Output validation failed", map[string]interface{}{
			"errors":   result.Errors,
			"modified": result.Modified,
		})
	}
	return result
}

func withDefaults(opts Options) Options {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	return opts
}

func truncate(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + truncationSuffix
}

func blockedReason(text string) string {
	switch {
	case isSingleCodeBlock(text):
		return "Response contains only a code block"
	case errorTokenPattern.MatchString(text):
		return fmt.Sprintf("Response is an error token: %q", text)
	case stringifiedPattern.MatchString(text):
		return "Response is a stringified object"
	case isWrappedInSingleTag(text):
		return "Response is raw markup"
	}
	return ""
}

// isSingleCodeBlock matches text that is one fenced block and nothing else.
// Prose between two blocks is a normal answer.
func isSingleCodeBlock(text string) bool {
	return codeBlockOnlyPattern.MatchString(text) && strings.Count(text, codeFence) == 2
}

// isWrappedInSingleTag reports whether the element opened at the start of
// text is closed exactly at its end, counting nested tags of the same name.
func isWrappedInSingleTag(text string) bool {
	m := openingTagPattern.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	root := strings.ToLower(m[1])

	depth := 0
	for _, loc := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[loc[4]:loc[5]])
		if name != root || loc[7] > loc[6] {
			continue
		}
		if loc[3] > loc[2] {
			depth--
		} else {
			depth++
		}
		if depth == 0 {
			return loc[1] == len(text)
		}
	}
	return false
}

func qualityIssues(text string, meta Metadata) []string {
	var issues []string

	if meta.CharacterCount < shortResponseChars {
		issues = append(issues, "Response is very short")
	}
	if meta.CitationCount == 0 {
		issues = append(issues, "Response contains no source citations")
	}
	if apologyPattern.MatchString(text) {
		issues = append(issues, "Response starts with an apology")
	}
	if uncertaintyPattern.MatchString(text) && meta.CharacterCount < uncertainBriefChars {
		issues = append(issues, "Response expresses uncertainty without substance")
	}
	if isRepetitive(text) {
		issues = append(issues, "Response contains repetitive content")
	}
	if meta.CharacterCount > shortResponseChars && !hasTerminalPunctuation(text) {
		issues = append(issues, "Response appears to end mid-sentence")
	}

	return issues
}

func isRepetitive(text string) bool {
	var sentences []string
	for _, s := range sentenceSplitPattern.Split(text, -1) {
		s = strings.ToLower(whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " "))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) < minSentencesRepetition {
		return false
	}

	seen := make(map[string]struct{}, len(sentences))
	duplicates := 0
	for _, s := range sentences {
		if _, ok := seen[s]; ok {
			duplicates++
			continue
		}
		seen[s] = struct{}{}
	}
	return float64(duplicates)/float64(len(sentences)) >= repetitionThreshold
}

func hasTerminalPunctuation(text string) bool {
	last, _ := utf8.DecodeLastRuneInString(text)
	switch last {
	case '.', '!', '?', '"', '\'', ')', ']', '`', '…', ':':
		return true
	}
	return false
}

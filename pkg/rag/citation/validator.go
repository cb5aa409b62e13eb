package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"ai-context-pipeline/internal/pkg/logger"
)

// maxRangeExpansion caps how many numbers a single "N-K" range may expand to.
const maxRangeExpansion = 10

var (
	citationPattern = regexp.MustCompile(`(?i)\[(sources?)\s+(\d+(?:\s*[-,]\s*\d+)*)\]`)

	parenCitationPattern = regexp.MustCompile(`(?i)\(sources?\s+(\d+(?:\s*[-,]\s*\d+)*)\)`)
	braceCitationPattern = regexp.MustCompile(`(?i)\{sources?\s+(\d+(?:\s*[-,]\s*\d+)*)\}`)
	// "source: 3" in running prose is not a marker; unbracketed labels
	// must be capitalized.
	bracketColonPattern  = regexp.MustCompile(`(?i)\[sources?:\s*(\d+(?:\s*,\s*\d+)*)\]`)
	labelColonPattern    = regexp.MustCompile(`\b(?:Sources?|SOURCES?):\s*(\d+(?:\s*,\s*\d+)*)`)
	bareCitationPattern  = regexp.MustCompile(`([.!?])\s*\[(\d+(?:\s*,\s*\d+)*)\]`)

	emptyCitationPattern  = regexp.MustCompile(`(?i)\[sources?\s*\]`)
	doubleSpacePattern    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunctation = regexp.MustCompile(`[ \t]+([.,!?;:])`)
	sentenceSplitPattern  = regexp.MustCompile(`[.!?]+`)
)

// Source is one retrieved document an answer may cite. Citation numbers are
// 1-based positions in the source list.
type Source struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Citation is one marker found in the text.
type Citation struct {
	Raw     string `json:"raw"`
	Numbers []int  `json:"numbers"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

type Options struct {
	RemoveInvalid      bool
	MaxOrphanCitations int
}

func DefaultOptions() Options {
	return Options{RemoveInvalid: true, MaxOrphanCitations: 0}
}

type ValidationResult struct {
	Valid            bool     `json:"valid"`
	Text             string   `json:"text"`
	ValidCitations   []int    `json:"validCitations"`
	InvalidCitations []int    `json:"invalidCitations"`
	TotalCitations   int      `json:"totalCitations"`
	Issues           []string `json:"issues"`
	Modified         bool     `json:"modified"`
}

type Coverage struct {
	TotalSentences int     `json:"totalSentences"`
	CitedSentences int     `json:"citedSentences"`
	Coverage       float64 `json:"coverage"`
}

// Validator checks inline "[Source N]" markers against a source list.
type Validator struct {
	logger logger.ILogger
}

func NewValidator(log logger.ILogger) *Validator {
	return &Validator{logger: log}
}

// ParseCitationNumbers expands "1, 3-5" into [1 3 4 5]. Ranges longer than
// maxRangeExpansion are truncated.
func ParseCitationNumbers(list string) []int {
	var numbers []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if bounds := strings.SplitN(part, "-", 2); len(bounds) == 2 {
			start, err1 := strconv.Atoi(strings.TrimSpace(bounds[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err1 != nil || err2 != nil {
				continue
			}
			if end < start {
				start, end = end, start
			}
			for n := start; n <= end && n-start < maxRangeExpansion; n++ {
				numbers = append(numbers, n)
			}
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			numbers = append(numbers, n)
		}
	}
	return numbers
}

// ExtractCitations returns every citation marker in text, in order.
func ExtractCitations(text string) []Citation {
	matches := citationPattern.FindAllStringSubmatchIndex(text, -1)
	citations := make([]Citation, 0, len(matches))
	for _, m := range matches {
		citations = append(citations, Citation{
			Raw:     text[m[0]:m[1]],
			Numbers: ParseCitationNumbers(text[m[4]:m[5]]),
			Start:   m[0],
			End:     m[1],
		})
	}
	return citations
}

// ValidateCitations reports citation numbers outside [1, len(sources)] as
// orphans. The result is invalid whenever an orphan exists, even when the
// text was repaired.
func (v *Validator) ValidateCitations(text string, sources []Source, opts Options) *ValidationResult {
	result := &ValidationResult{
		Valid:            true,
		Text:             text,
		ValidCitations:   []int{},
		InvalidCitations: []int{},
		Issues:           []string{},
	}

	citations := ExtractCitations(text)
	if len(citations) == 0 {
		return result
	}

	sourceCount := len(sources)
	validSet := make(map[int]struct{})
	invalidSet := make(map[int]struct{})
	for _, c := range citations {
		for _, n := range c.Numbers {
			result.TotalCitations++
			if isValidNumber(n, sourceCount) {
				validSet[n] = struct{}{}
			} else {
				invalidSet[n] = struct{}{}
			}
		}
	}

	result.ValidCitations = sortedKeys(validSet)
	result.InvalidCitations = sortedKeys(invalidSet)

	if len(result.InvalidCitations) == 0 {
		return result
	}

	result.Valid = false
	for _, n := range result.InvalidCitations {
		result.Issues = append(result.Issues,
			fmt.Sprintf("Orphan citation [Source %d]: only %d sources available", n, sourceCount))
	}

	if len(result.InvalidCitations) > opts.MaxOrphanCitations && opts.RemoveInvalid {
		repaired := removeOrphans(text, sourceCount)
		if repaired != text {
			result.Text = repaired
			result.Modified = true
		}
	}

	v.logger.Warn("CITATION", "Orphan citations detected", map[string]interface{}{
		"invalid":      result.InvalidCitations,
		"source_count": sourceCount,
		"repaired":     result.Modified,
	})

	return result
}

// ProcessCitations normalizes malformed markers and then validates.
func (v *Validator) ProcessCitations(text string, sources []Source, opts Options) *ValidationResult {
	normalized := NormalizeCitationFormat(text)
	result := v.ValidateCitations(normalized, sources, opts)
	if normalized != text {
		result.Modified = true
	}
	return result
}

// NormalizeCitationFormat rewrites "(Source N)", "{Source N}", "[source: N]",
// a capitalized "Source: N" and a bare "[N]" after sentence-final punctuation into "[Source N]".
func NormalizeCitationFormat(text string) string {
	out := parenCitationPattern.ReplaceAllString(text, "[Source $1]")
	out = braceCitationPattern.ReplaceAllString(out, "[Source $1]")
	out = bracketColonPattern.ReplaceAllString(out, "[Source $1]")
	out = labelColonPattern.ReplaceAllString(out, "[Source $1]")
	out = bareCitationPattern.ReplaceAllString(out, "$1 [Source $2]")
	return out
}

// AnalyzeCitationCoverage computes the share of sentences longer than 20
// characters that carry at least one citation. Advisory only.
func AnalyzeCitationCoverage(text string) Coverage {
	var cov Coverage
	for _, sentence := range splitSentences(text) {
		cov.TotalSentences++
		if citationPattern.MatchString(sentence) {
			cov.CitedSentences++
		}
	}
	if cov.TotalSentences > 0 {
		cov.Coverage = float64(cov.CitedSentences) / float64(cov.TotalSentences)
	}
	return cov
}

// FormatSourceList renders sources as a numbered list for prompts.
func FormatSourceList(sources []Source) string {
	var sb strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&sb, "[Source %d] %s\n", i+1, s.Title)
	}
	return sb.String()
}

func removeOrphans(text string, sourceCount int) string {
	out := citationPattern.ReplaceAllStringFunc(text, func(marker string) string {
		sub := citationPattern.FindStringSubmatch(marker)
		label, list := sub[1], sub[2]

		numbers := ParseCitationNumbers(list)
		kept := make([]string, 0, len(numbers))
		for _, n := range numbers {
			if isValidNumber(n, sourceCount) {
				kept = append(kept, strconv.Itoa(n))
			}
		}

		switch {
		case len(kept) == 0:
			return ""
		case len(kept) == len(numbers):
			return marker
		default:
			return "[" + label + " " + strings.Join(kept, ", ") + "]"
		}
	})

	out = emptyCitationPattern.ReplaceAllString(out, "")
	out = doubleSpacePattern.ReplaceAllString(out, " ")
	out = spaceBeforePunctation.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

func splitSentences(text string) []string {
	var sentences []string
	for _, s := range sentenceSplitPattern.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(s) > 20 {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func isValidNumber(n, sourceCount int) bool {
	return n >= 1 && n <= sourceCount
}

func sortedKeys(set map[int]struct{}) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

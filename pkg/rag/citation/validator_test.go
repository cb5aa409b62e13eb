package citation

import (
	"testing"

	"ai-context-pipeline/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sources(n int) []Source {
	out := make([]Source, n)
	for i := range out {
		out[i] = Source{ID: string(rune('a' + i)), Title: "Doc"}
	}
	return out
}

func TestParseCitationNumbers(t *testing.T) {
	tests := []struct {
		list string
		want []int
	}{
		{"1", []int{1}},
		{"1, 3", []int{1, 3}},
		{"2-4", []int{2, 3, 4}},
		{"1,3-5", []int{1, 3, 4, 5}},
		{"4-2", []int{2, 3, 4}},
		{"1-100", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.list, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCitationNumbers(tt.list))
		})
	}
}

func TestExtractCitations(t *testing.T) {
	citations := ExtractCitations("A [Source 1]. B [sources 2, 3]. C [SOURCE 4-5].")

	require.Len(t, citations, 3)
	assert.Equal(t, []int{1}, citations[0].Numbers)
	assert.Equal(t, []int{2, 3}, citations[1].Numbers)
	assert.Equal(t, []int{4, 5}, citations[2].Numbers)
	assert.Equal(t, "[Source 1]", citations[0].Raw)
}

func TestValidateCitationsRemovesOrphan(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())

	result := v.ValidateCitations("Fact [Source 1]. Another [Source 99].", sources(1), Options{RemoveInvalid: true})

	assert.False(t, result.Valid)
	assert.Equal(t, []int{1}, result.ValidCitations)
	assert.Equal(t, []int{99}, result.InvalidCitations)
	assert.Equal(t, 2, result.TotalCitations)
	assert.True(t, result.Modified)
	assert.Equal(t, "Fact [Source 1]. Another.", result.Text)
	assert.NotContains(t, result.Text, "[Source 99]")
	assert.Len(t, result.Issues, 1)
}

func TestValidateCitationsKeepsTextWithoutRemoval(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())
	text := "Fact [Source 1]. Another [Source 99]."

	result := v.ValidateCitations(text, sources(1), Options{RemoveInvalid: false})

	assert.False(t, result.Valid)
	assert.False(t, result.Modified)
	assert.Equal(t, text, result.Text)
}

func TestValidateCitationsToleratesOrphansUpToLimit(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())
	text := "Fact [Source 1]. Another [Source 7]."

	result := v.ValidateCitations(text, sources(2), Options{RemoveInvalid: true, MaxOrphanCitations: 1})

	assert.False(t, result.Valid, "orphans always invalidate")
	assert.Equal(t, text, result.Text)
}

func TestValidateCitationsStripsOnlyInvalidNumbers(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())

	result := v.ValidateCitations("Combined claim [Sources 1, 5, 2].", sources(2), Options{RemoveInvalid: true})

	assert.Equal(t, "Combined claim [Sources 1, 2].", result.Text)
	assert.Equal(t, []int{1, 2}, result.ValidCitations)
	assert.Equal(t, []int{5}, result.InvalidCitations)
}

func TestValidateCitationsAllValid(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())

	result := v.ValidateCitations("One [Source 1]. Two [Source 2].", sources(2), DefaultOptions())

	assert.True(t, result.Valid)
	assert.False(t, result.Modified)
	assert.Empty(t, result.InvalidCitations)
}

func TestNormalizeCitationFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"parentheses", "Fact (Source 2).", "Fact [Source 2]."},
		{"braces", "Fact {source 1, 2}.", "Fact [Source 1, 2]."},
		{"colon", "Fact Source: 3.", "Fact [Source 3]."},
		{"bracketed colon", "Fact [Source: 3].", "Fact [Source 3]."},
		{"bracketed lowercase colon", "Fact [sources: 1, 2].", "Fact [Source 1, 2]."},
		{"prose colon", "Redis is open source: 3 editions exist.", "Redis is open source: 3 editions exist."},
		{"bare trailing", "Fact. [4]", "Fact. [Source 4]"},
		{"already canonical", "Fact [Source 1].", "Fact [Source 1]."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCitationFormat(tt.in))
		})
	}
}

func TestProcessCitationsKeepsProseColon(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())
	text := "Redis is open source: 3 editions exist today [Source 1]."

	result := v.ProcessCitations(text, sources(1), DefaultOptions())
	assert.True(t, result.Valid)
	assert.Equal(t, text, result.Text)
	assert.Equal(t, []int{1}, result.ValidCitations)
	assert.Empty(t, result.InvalidCitations)
}

func TestProcessCitationsIsMonotonic(t *testing.T) {
	v := NewValidator(logger.NewNopLogger())
	inputs := []string{
		"Fact (Source 1). Another {Source 3}. Third [Sources 1-4].",
		"Plain text without citations.",
		"Claim. [2] Next claim [Source 9].",
	}

	for _, in := range inputs {
		first := v.ProcessCitations(in, sources(2), DefaultOptions())
		second := v.ProcessCitations(first.Text, sources(2), DefaultOptions())

		assert.GreaterOrEqual(t, len(second.ValidCitations), len(first.ValidCitations), in)
		for _, n := range second.InvalidCitations {
			assert.Contains(t, first.InvalidCitations, n, in)
		}
	}
}

func TestAnalyzeCitationCoverage(t *testing.T) {
	text := "Redis is an in-memory data store [Source 1]. It supports many data structures natively. Short one."

	cov := AnalyzeCitationCoverage(text)

	assert.Equal(t, 2, cov.TotalSentences)
	assert.Equal(t, 1, cov.CitedSentences)
	assert.InDelta(t, 0.5, cov.Coverage, 0.001)
}

func TestFormatSourceList(t *testing.T) {
	out := FormatSourceList([]Source{{Title: "Alpha"}, {Title: "Beta"}})
	assert.Equal(t, "[Source 1] Alpha\n[Source 2] Beta\n", out)

	// the labels offered to the model are the ones the validator accepts
	v := NewValidator(logger.NewNopLogger())
	result := v.ProcessCitations("Alpha says so [Source 2].", []Source{{Title: "Alpha"}, {Title: "Beta"}}, DefaultOptions())
	assert.True(t, result.Valid)
	assert.Equal(t, []int{2}, result.ValidCitations)
}

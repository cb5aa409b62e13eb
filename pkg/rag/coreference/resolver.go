// Package coreference rewrites follow-up questions so they stand on their
// own ("What is it?" becomes "What is Redis?"). Cheap pattern rules run
// first; a language model is consulted only when they cannot decide.
package coreference

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/pkg/llm"

	"github.com/patrickmn/go-cache"
)

const (
	logModule = "COREF"

	DefaultCacheSize = 200

	confidenceUnchanged  = 1.0
	confidenceFailSoft   = 0.5
	confidenceParseError = 0.3
	ruleAcceptThreshold  = 0.8

	promptMessageCount  = 6
	promptMessageLength = 200
)

// Reference is a single substitution made in the query.
type Reference struct {
	Original   string  `json:"original"`
	Resolved   string  `json:"resolved"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of resolving one query.
type Result struct {
	OriginalQuery      string      `json:"originalQuery"`
	ResolvedQuery      string      `json:"resolvedQuery"`
	HadReferences      bool        `json:"hadReferences"`
	ResolvedReferences []Reference `json:"resolvedReferences"`
	Confidence         float64     `json:"confidence"`
}

// Conversation is what the resolver may look back into.
type Conversation struct {
	Messages []llm.Message
	Entities []string
	Topics   []string
}

type template struct {
	pattern    *regexp.Regexp
	confidence float64
}

// Each template captures the pronoun as the named group "ref".
var templates = []template{
	{regexp.MustCompile(`(?i)^\s*tell me more about (?P<ref>it|this|that)\s*[.?!]*\s*$`), 0.85},
	{regexp.MustCompile(`(?i)^\s*how does (?P<ref>it|this|that) work\s*\??\s*$`), 0.85},
	{regexp.MustCompile(`(?i)^\s*(?:what|how|why|where|when|who|which)\s+(?:is|are|does|do|was|were|can|should)\b.*?\b(?P<ref>it|this|that)\s*\??\s*$`), 0.8},
}

type Option func(*Resolver)

func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

type Resolver struct {
	llmProvider llm.LLMProvider
	logger      logger.ILogger

	cacheMu   sync.Mutex
	cache     *cache.Cache
	cacheKeys []string
	cacheSize int
}

// NewResolver builds a resolver. llmProvider may be nil, in which case only
// the rule-based path is available.
func NewResolver(llmProvider llm.LLMProvider, log logger.ILogger, opts ...Option) *Resolver {
	r := &Resolver{
		llmProvider: llmProvider,
		logger:      log,
		cache:       cache.New(cache.NoExpiration, 0),
		cacheSize:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve never returns an error: on any failure the original query comes
// back unchanged with a lowered confidence.
func (r *Resolver) Resolve(ctx context.Context, query string, conv Conversation) (result *Result) {
	if !HasReferenceIndicators(query) || len(conv.Messages) == 0 {
		return unchanged(query, confidenceUnchanged)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(logModule, "Resolution panicked, returning original query", map[string]interface{}{
				"query": query,
				"panic": fmt.Sprint(rec),
			})
			result = unchanged(query, confidenceFailSoft)
		}
	}()

	found := extractCandidates(conv)

	if res := applyTemplates(query, found.entities); res != nil && res.Confidence >= ruleAcceptThreshold {
		r.logger.Debug(logModule, "Resolved by rule", map[string]interface{}{
			"query":    query,
			"resolved": res.ResolvedQuery,
		})
		return res
	}

	if r.llmProvider == nil {
		return unchanged(query, confidenceFailSoft)
	}

	key := cacheKey(query, conv.Messages)
	if cached, ok := r.cache.Get(key); ok {
		return copyResult(cached.(*Result))
	}

	res, parsed, err := r.resolveWithModel(ctx, query, conv.Messages, found)
	if err != nil {
		r.logger.Warn(logModule, "Model resolution failed", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return unchanged(query, confidenceFailSoft)
	}
	if parsed {
		r.remember(key, res)
	}
	return res
}

func unchanged(query string, confidence float64) *Result {
	return &Result{
		OriginalQuery:      query,
		ResolvedQuery:      query,
		HadReferences:      false,
		ResolvedReferences: []Reference{},
		Confidence:         confidence,
	}
}

// applyTemplates substitutes the first referent into a canonical follow-up
// question. It returns nil when no template matches or nothing to refer to.
func applyTemplates(query string, referents []string) *Result {
	if len(referents) == 0 {
		return nil
	}
	referent := referents[0]

	for _, t := range templates {
		m := t.pattern.FindStringSubmatchIndex(query)
		if m == nil {
			continue
		}
		idx := t.pattern.SubexpIndex("ref")
		start, end := m[2*idx], m[2*idx+1]
		pronoun := query[start:end]

		return &Result{
			OriginalQuery: query,
			ResolvedQuery: query[:start] + referent + query[end:],
			HadReferences: true,
			ResolvedReferences: []Reference{
				{Original: pronoun, Resolved: referent, Confidence: t.confidence},
			},
			Confidence: t.confidence,
		}
	}
	return nil
}

// resolveWithModel reports parsed=false when the model answered with
// something that is not the expected JSON object.
func (r *Resolver) resolveWithModel(ctx context.Context, query string, messages []llm.Message, found candidates) (res *Result, parsed bool, err error) {
	prompt := buildPrompt(query, messages, found)

	response, err := r.llmProvider.Generate(ctx, prompt, llm.WithTemperature(0.0), llm.WithJSONMode())
	if err != nil {
		return nil, false, err
	}

	res, err = parseModelResult(query, response)
	if err != nil {
		r.logger.Warn(logModule, "Unparseable model response, keeping original query", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return unchanged(query, confidenceParseError), false, nil
	}
	return res, true, nil
}

func buildPrompt(query string, messages []llm.Message, found candidates) string {
	if len(messages) > promptMessageCount {
		messages = messages[len(messages)-promptMessageCount:]
	}

	var prompt strings.Builder
	prompt.WriteString("<system>\n")
	prompt.WriteString("You resolve references in the user's latest question so it can be understood without the conversation.\n")
	prompt.WriteString("Replace pronouns, demonstratives and elliptical phrases with what they refer to. Do not answer the question.\n")
	prompt.WriteString("</system>\n\n")

	prompt.WriteString("<conversation>\n")
	for _, m := range messages {
		prompt.WriteString(fmt.Sprintf("%s: %s\n", m.Role, truncate(m.Content, promptMessageLength)))
	}
	prompt.WriteString("</conversation>\n\n")

	if len(found.entities) > 0 {
		prompt.WriteString("<entities>\n")
		prompt.WriteString(strings.Join(found.entities, ", "))
		prompt.WriteString("\n</entities>\n\n")
	}
	if len(found.topics) > 0 {
		prompt.WriteString("<topics>\n")
		prompt.WriteString(strings.Join(found.topics, ", "))
		prompt.WriteString("\n</topics>\n\n")
	}

	prompt.WriteString("<user_query>\n")
	prompt.WriteString(query)
	prompt.WriteString("\n</user_query>\n\n")

	prompt.WriteString("Respond with a single JSON object and nothing else:\n")
	prompt.WriteString(`{"resolvedQuery": "...", "hadReferences": true, "resolvedReferences": [{"original": "...", "resolved": "...", "confidence": 0.9}], "confidence": 0.9}`)
	prompt.WriteString("\nIf nothing needs resolving, return the query unchanged with hadReferences false.\n")
	return prompt.String()
}

func parseModelResult(query, response string) (*Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &res); err != nil {
		body := extractJSON(response)
		if body == "" {
			return nil, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(body), &res); err != nil {
			return nil, fmt.Errorf("JSON unmarshal failed: %w", err)
		}
	}

	res.OriginalQuery = query
	if strings.TrimSpace(res.ResolvedQuery) == "" {
		res.ResolvedQuery = query
		res.HadReferences = false
	}
	if res.ResolvedReferences == nil {
		res.ResolvedReferences = []Reference{}
	}
	res.Confidence = clamp(res.Confidence)
	for i := range res.ResolvedReferences {
		res.ResolvedReferences[i].Confidence = clamp(res.ResolvedReferences[i].Confidence)
	}
	return &res, nil
}

// extractJSON returns the first balanced {...} block, skipping braces that
// appear inside string literals.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cacheKey(query string, messages []llm.Message) string {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return strings.ToLower(strings.TrimSpace(query)) + "\x00" + last
}

// remember stores a model result, evicting the oldest insertion when full.
func (r *Resolver) remember(key string, res *Result) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if _, exists := r.cache.Get(key); !exists {
		r.cacheKeys = append(r.cacheKeys, key)
	}
	r.cache.Set(key, copyResult(res), cache.NoExpiration)

	for len(r.cacheKeys) > r.cacheSize {
		r.cache.Delete(r.cacheKeys[0])
		r.cacheKeys = r.cacheKeys[1:]
	}
}

// CacheLen reports how many model results are cached.
func (r *Resolver) CacheLen() int {
	return r.cache.ItemCount()
}

func copyResult(res *Result) *Result {
	cp := *res
	cp.ResolvedReferences = append([]Reference{}, res.ResolvedReferences...)
	return &cp
}

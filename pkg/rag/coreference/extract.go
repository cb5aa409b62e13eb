package coreference

import (
	"regexp"
	"strings"

	"ai-context-pipeline/pkg/llm"
)

const (
	maxEntities          = 15
	maxTopics            = 10
	maxLastAnswerTopic   = 100
	extractionWindowSize = 6
)

var (
	indicatorPatterns = []*regexp.Regexp{
		// Pronouns
		regexp.MustCompile(`(?i)\b(it|its|they|them|their|theirs|he|him|his|she|her|hers)\b`),
		// Demonstratives
		regexp.MustCompile(`(?i)\b(this|that|these|those)\b`),
		regexp.MustCompile(`(?i)\b(the (same|former|latter|above|previous|last one|first one|second one|other one)|the one you mentioned|mentioned (above|earlier|before))\b`),
		// Ellipsis
		regexp.MustCompile(`(?i)^\s*(what|how) about\b`),
		regexp.MustCompile(`(?i)^\s*(and|also|or)\b.*\?\s*$`),
		regexp.MustCompile(`(?i)^\s*(why|how|really|example|examples|more)\s*\??\s*$`),
		// Comparatives
		regexp.MustCompile(`(?i)\b(compared (to|with)|versus|vs\.?|better than|worse than|the difference|instead)\b`),
	}

	quotedPattern      = regexp.MustCompile(`["“]([^"”]{2,60})["”]`)
	capitalizedPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:\s+[A-Z][a-zA-Z0-9]+)*\b`)
	identifierPattern  = regexp.MustCompile(`\b(?:[a-z]+[A-Z][a-zA-Z0-9]*|[A-Za-z][A-Za-z0-9]*_[A-Za-z0-9_]+)\b`)
	sentenceEnd        = regexp.MustCompile(`[.!?\n]`)
)

var stopwords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "where": {}, "when": {}, "who": {}, "which": {},
	"the": {}, "a": {}, "an": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"it": {}, "its": {}, "i": {}, "you": {}, "we": {}, "they": {}, "he": {}, "she": {},
	"is": {}, "are": {}, "do": {}, "does": {}, "can": {}, "could": {}, "should": {}, "would": {},
	"yes": {}, "no": {}, "sure": {}, "ok": {}, "okay": {}, "thanks": {}, "hello": {}, "hi": {},
	"here": {}, "there": {}, "also": {}, "and": {}, "but": {}, "or": {}, "if": {}, "so": {},
	"in": {}, "on": {}, "for": {}, "to": {}, "of": {}, "with": {}, "by": {}, "from": {},
	"first": {}, "second": {}, "finally": {}, "however": {}, "note": {}, "source": {}, "sources": {},
	// Interjections and discourse markers that open assistant replies.
	"great": {}, "absolutely": {}, "certainly": {}, "indeed": {}, "well": {}, "good": {}, "nice": {},
	"exactly": {}, "right": {}, "actually": {}, "basically": {}, "essentially": {}, "overall": {},
	"generally": {}, "typically": {}, "usually": {}, "additionally": {}, "furthermore": {}, "moreover": {},
	"now": {}, "then": {}, "next": {}, "please": {}, "thank": {}, "let": {}, "use": {},
	"unfortunately": {}, "alternatively": {}, "instead": {}, "perfect": {}, "correct": {}, "true": {},
}

// HasReferenceIndicators reports whether the query contains anything that
// could point back into the conversation.
func HasReferenceIndicators(query string) bool {
	for _, p := range indicatorPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// candidates is what extraction found in the trailing conversation.
type candidates struct {
	entities        []string
	topics          []string
	lastAnswerTopic string
}

// extractCandidates collects referents: caller-supplied entities first,
// then names found in the most recent messages.
func extractCandidates(in Conversation) candidates {
	entities := newOrderedSet(maxEntities)
	for _, e := range in.Entities {
		entities.add(e)
	}

	messages := in.Messages
	if len(messages) > extractionWindowSize {
		messages = messages[len(messages)-extractionWindowSize:]
	}
	for i := len(messages) - 1; i >= 0; i-- {
		for _, name := range extractNames(messages[i].Content) {
			entities.add(name)
		}
	}

	topics := newOrderedSet(maxTopics)
	for _, t := range in.Topics {
		topics.add(t)
	}

	lastAnswer := lastAnswerTopic(messages)
	if lastAnswer != "" {
		topics.add(lastAnswer)
	}

	return candidates{
		entities:        entities.items,
		topics:          topics.items,
		lastAnswerTopic: lastAnswer,
	}
}

func extractNames(text string) []string {
	var names []string
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	// A lone capitalized word opening a sentence is weak evidence of a
	// name, so it ranks after every other candidate from the same text.
	var weak []string
	for _, loc := range capitalizedPattern.FindAllStringIndex(text, -1) {
		span := text[loc[0]:loc[1]]
		name := trimStopwords(span)
		if name == "" {
			continue
		}
		if name == span && !strings.Contains(name, " ") && sentenceInitial(text, loc[0]) {
			weak = append(weak, name)
			continue
		}
		names = append(names, name)
	}
	names = append(names, identifierPattern.FindAllString(text, -1)...)
	return append(names, weak...)
}

// sentenceInitial reports whether the word at pos starts the text or follows
// sentence-ending punctuation.
func sentenceInitial(text string, pos int) bool {
	before := strings.TrimRight(text[:pos], " \t\"'“(")
	if before == "" {
		return true
	}
	return strings.ContainsAny(before[len(before)-1:], ".!?:\n")
}

// trimStopwords drops leading stopwords from a capitalized span, so
// "What Redis" yields "Redis" and "The" yields nothing.
func trimStopwords(span string) string {
	words := strings.Fields(span)
	for len(words) > 0 {
		if _, stop := stopwords[strings.ToLower(words[0])]; !stop {
			break
		}
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func lastAnswerTopic(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		text := strings.TrimSpace(messages[i].Content)
		if loc := sentenceEnd.FindStringIndex(text); loc != nil {
			text = text[:loc[0]]
		}
		return truncate(strings.TrimSpace(text), maxLastAnswerTopic)
	}
	return ""
}

type orderedSet struct {
	limit int
	seen  map[string]struct{}
	items []string
}

func newOrderedSet(limit int) *orderedSet {
	return &orderedSet{limit: limit, seen: make(map[string]struct{}), items: []string{}}
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" || len(s.items) >= s.limit {
		return
	}
	key := strings.ToLower(v)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, v)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

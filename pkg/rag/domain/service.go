// Package domain describes what a workspace is about: its profile, the
// concept hierarchy derived from it, and whether a question fits.
package domain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"ai-context-pipeline/internal/entity"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/internal/repository/specification"
	"ai-context-pipeline/internal/repository/unitofwork"
)

const logModule = "DOMAIN"

var ErrProfileNotFound = errors.New("domain profile not found")

// Scope reasons.
const (
	ReasonNoProfile       = "no_profile"
	ReasonNoVocabulary    = "no_vocabulary"
	ReasonOutOfScopeTopic = "out_of_scope_topic"
	ReasonKeywordMatch    = "keyword_match"
	ReasonNoMatch         = "no_domain_match"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// DomainContext is the profile projection merged into the conversation context.
type DomainContext struct {
	WorkspaceId string   `json:"workspaceId"`
	HasProfile  bool     `json:"hasProfile"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	SeedTopics  []string `json:"seedTopics"`
	Keywords    []string `json:"keywords"`
}

type ScopeResult struct {
	InScope         bool     `json:"inScope"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matchedKeywords"`
	Reason          string   `json:"reason"`
}

type RelevantConcept struct {
	Name       string  `json:"name"`
	ParentName string  `json:"parentName,omitempty"`
	Depth      int     `json:"depth"`
	Score      float64 `json:"score"`
}

// ProfileDefaults seed a profile created on first access.
type ProfileDefaults struct {
	Name        string
	Description string
	SeedTopics  []string
	Keywords    []string
}

type Service struct {
	repoFactory unitofwork.RepositoryFactory
	logger      logger.ILogger
	now         func() time.Time
}

func NewService(repoFactory unitofwork.RepositoryFactory, log logger.ILogger) *Service {
	return &Service{
		repoFactory: repoFactory,
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) findProfile(ctx context.Context, workspaceId string) (*entity.DomainProfile, error) {
	uow := s.repoFactory.NewUnitOfWork(ctx)
	return uow.DomainProfileRepository().FindOne(ctx, specification.ByWorkspaceID{WorkspaceID: workspaceId})
}

func (s *Service) GetDomainContext(ctx context.Context, workspaceId string) (*DomainContext, error) {
	profile, err := s.findProfile(ctx, workspaceId)
	if err != nil {
		return nil, fmt.Errorf("load domain profile: %w", err)
	}
	if profile == nil {
		return &DomainContext{WorkspaceId: workspaceId, SeedTopics: []string{}, Keywords: []string{}}, nil
	}
	return &DomainContext{
		WorkspaceId: workspaceId,
		HasProfile:  true,
		Name:        profile.Name,
		Description: profile.Description,
		SeedTopics:  nonNil(profile.SeedTopics),
		Keywords:    nonNil(profile.Keywords),
	}, nil
}

func (s *Service) GetOrCreateProfile(ctx context.Context, workspaceId string, defaults ProfileDefaults) (*entity.DomainProfile, error) {
	profile, err := s.findProfile(ctx, workspaceId)
	if err != nil {
		return nil, fmt.Errorf("load domain profile: %w", err)
	}
	if profile != nil {
		return profile, nil
	}

	name := defaults.Name
	if name == "" {
		name = workspaceId
	}
	profile = &entity.DomainProfile{
		WorkspaceId:      workspaceId,
		Name:             name,
		Description:      defaults.Description,
		SeedTopics:       nonNil(defaults.SeedTopics),
		Keywords:         nonNil(defaults.Keywords),
		OutOfScopeTopics: []string{},
		CreatedAt:        s.now(),
	}
	uow := s.repoFactory.NewUnitOfWork(ctx)
	if err := uow.DomainProfileRepository().Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("create domain profile: %w", err)
	}

	s.logger.Info(logModule, "Domain profile created", map[string]interface{}{
		"workspace_id": workspaceId,
		"seed_topics":  len(profile.SeedTopics),
	})
	return profile, nil
}

// CheckScope matches the query vocabulary against the profile. An
// out-of-scope topic wins over any keyword match.
func (s *Service) CheckScope(ctx context.Context, workspaceId, query string) (*ScopeResult, error) {
	profile, err := s.findProfile(ctx, workspaceId)
	if err != nil {
		return nil, fmt.Errorf("load domain profile: %w", err)
	}
	if profile == nil {
		return &ScopeResult{InScope: true, Confidence: 0.5, MatchedKeywords: []string{}, Reason: ReasonNoProfile}, nil
	}

	normalized := normalize(query)
	for _, topic := range profile.OutOfScopeTopics {
		if containsPhrase(normalized, topic) {
			return &ScopeResult{
				InScope:         false,
				Confidence:      0.9,
				MatchedKeywords: []string{topic},
				Reason:          ReasonOutOfScopeTopic,
			}, nil
		}
	}

	vocabulary := append(append([]string{}, profile.Keywords...), profile.SeedTopics...)
	if len(vocabulary) == 0 {
		return &ScopeResult{InScope: true, Confidence: 0.5, MatchedKeywords: []string{}, Reason: ReasonNoVocabulary}, nil
	}

	matched := []string{}
	for _, term := range vocabulary {
		if containsPhrase(normalized, term) && !containsFold(matched, term) {
			matched = append(matched, term)
		}
	}
	if len(matched) == 0 {
		return &ScopeResult{InScope: false, Confidence: 0.4, MatchedKeywords: matched, Reason: ReasonNoMatch}, nil
	}
	return &ScopeResult{
		InScope:         true,
		Confidence:      minFloat(1.0, 0.5+0.25*float64(len(matched))),
		MatchedKeywords: matched,
		Reason:          ReasonKeywordMatch,
	}, nil
}

func (s *Service) HasConceptHierarchy(ctx context.Context, workspaceId string) (bool, error) {
	uow := s.repoFactory.NewUnitOfWork(ctx)
	count, err := uow.ConceptNodeRepository().Count(ctx, specification.ByWorkspaceID{WorkspaceID: workspaceId})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// BuildConceptHierarchy derives one root per seed topic and hangs each
// profile keyword under the root it shares the most words with (the first
// root when none). Returns the number of nodes written.
func (s *Service) BuildConceptHierarchy(ctx context.Context, workspaceId string) (int, error) {
	profile, err := s.findProfile(ctx, workspaceId)
	if err != nil {
		return 0, fmt.Errorf("load domain profile: %w", err)
	}
	if profile == nil {
		return 0, ErrProfileNotFound
	}
	if len(profile.SeedTopics) == 0 {
		return 0, nil
	}

	now := s.now()
	nodes := make([]*entity.ConceptNode, 0, len(profile.SeedTopics)+len(profile.Keywords))
	roots := []string{}
	for _, topic := range profile.SeedTopics {
		if containsFold(roots, topic) {
			continue
		}
		roots = append(roots, topic)
		nodes = append(nodes, &entity.ConceptNode{
			WorkspaceId: workspaceId,
			Name:        topic,
			Keywords:    words(topic),
			Depth:       0,
			CreatedAt:   now,
		})
	}
	for _, keyword := range profile.Keywords {
		if containsFold(roots, keyword) {
			continue
		}
		nodes = append(nodes, &entity.ConceptNode{
			WorkspaceId: workspaceId,
			Name:        keyword,
			ParentName:  closestRoot(keyword, roots),
			Keywords:    words(keyword),
			Depth:       1,
			CreatedAt:   now,
		})
	}

	uow := s.repoFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return 0, err
	}
	defer uow.Rollback()

	if err := uow.ConceptNodeRepository().CreateBulk(ctx, nodes); err != nil {
		return 0, fmt.Errorf("store concept hierarchy: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info(logModule, "Concept hierarchy built", map[string]interface{}{
		"workspace_id": workspaceId,
		"roots":        len(roots),
		"nodes":        len(nodes),
	})
	return len(nodes), nil
}

// FindRelevantConcepts ranks the workspace concepts against the query. A
// concept named in the query scores 1; each shared keyword adds 0.5.
func (s *Service) FindRelevantConcepts(ctx context.Context, workspaceId, query string, limit int) ([]RelevantConcept, error) {
	uow := s.repoFactory.NewUnitOfWork(ctx)
	concepts, err := uow.ConceptNodeRepository().FindAll(ctx,
		specification.ByWorkspaceID{WorkspaceID: workspaceId},
		specification.OrderBy{Field: "depth"},
		specification.OrderBy{Field: "name"},
	)
	if err != nil {
		return nil, fmt.Errorf("load concepts: %w", err)
	}

	normalized := normalize(query)
	queryWords := words(query)
	relevant := []RelevantConcept{}
	for _, c := range concepts {
		score := 0.0
		if containsPhrase(normalized, c.Name) {
			score += 1.0
		}
		for _, k := range c.Keywords {
			if containsFold(queryWords, k) {
				score += 0.5
			}
		}
		if score == 0 {
			continue
		}
		relevant = append(relevant, RelevantConcept{
			Name:       c.Name,
			ParentName: c.ParentName,
			Depth:      c.Depth,
			Score:      score,
		})
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		if relevant[i].Score != relevant[j].Score {
			return relevant[i].Score > relevant[j].Score
		}
		return relevant[i].Depth < relevant[j].Depth
	})
	if limit > 0 && len(relevant) > limit {
		relevant = relevant[:limit]
	}
	return relevant, nil
}

func closestRoot(keyword string, roots []string) string {
	best, bestShared := roots[0], 0
	kw := words(keyword)
	for _, root := range roots {
		shared := 0
		for _, w := range words(root) {
			if containsFold(kw, w) {
				shared++
			}
		}
		if shared > bestShared {
			best, bestShared = root, shared
		}
	}
	return best
}

func words(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

// normalize lowercases and collapses punctuation so phrases can be matched
// on word boundaries with a padded Contains.
func normalize(s string) string {
	return " " + strings.Join(words(s), " ") + " "
}

func containsPhrase(normalized, phrase string) bool {
	p := strings.Join(words(phrase), " ")
	if p == "" {
		return false
	}
	return strings.Contains(normalized, " "+p+" ")
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

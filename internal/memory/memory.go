// Package memory bridges an agent's working context to the durable
// knowledge store. It owns the final relevance score a recall call
// returns: knowledge.Repository only does raw text-token matching and
// filtering, leaving the decision of what counts as relevant to this
// package.
package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/amperehq/ampere/internal/knowledge"
)

// Context describes what an agent is about to work on, used to recall
// knowledge that might help.
type Context struct {
	TaskType        string
	ComplexityLevel string
	Tags            []string
	Description     string
}

// weights controls how much each relevance signal contributes to the
// final blended score returned by RecallRelevantKnowledge.
const (
	weightTextSimilarity = 0.5
	weightTagOverlap     = 0.3
	weightTaskTypeMatch  = 0.2
)

// Service is the MemoryService.
type Service struct {
	knowledge *knowledge.Repository
}

// New returns a Service over repo.
func New(repo *knowledge.Repository) *Service {
	return &Service{knowledge: repo}
}

// StoreKnowledge records a new episodic memory, delegating straight to
// the repository: storage has no relevance concern.
func (s *Service) StoreKnowledge(ctx context.Context, k knowledge.Knowledge, agentID *string, tags []string, taskType, complexityLevel *string) (*knowledge.Entry, error) {
	return s.knowledge.StoreKnowledge(ctx, k, agentID, tags, taskType, complexityLevel)
}

// RecallRelevantKnowledge gathers candidate entries from the repository
// (by text similarity to Context.Description, and by tag/task-type
// filters) and re-ranks the union by a blended score this package owns.
func (s *Service) RecallRelevantKnowledge(ctx context.Context, c Context, limit int) ([]knowledge.WithScore, error) {
	candidates := make(map[string]*knowledge.Entry)
	textScores := make(map[string]float64)

	if strings.TrimSpace(c.Description) != "" {
		similar, err := s.knowledge.FindSimilarKnowledge(ctx, c.Description, 0)
		if err != nil {
			return nil, err
		}
		for _, ws := range similar {
			e := ws.Entry
			candidates[e.ID] = &e
			textScores[e.ID] = ws.RelevanceScore
		}
	}

	if len(c.Tags) > 0 {
		byTag, err := s.knowledge.FindKnowledgeByTags(ctx, c.Tags)
		if err != nil {
			return nil, err
		}
		for _, e := range byTag {
			if _, ok := candidates[e.ID]; !ok {
				candidates[e.ID] = e
			}
		}
	}

	if c.TaskType != "" {
		byTaskType, err := s.knowledge.FindKnowledgeByTaskType(ctx, c.TaskType)
		if err != nil {
			return nil, err
		}
		for _, e := range byTaskType {
			if _, ok := candidates[e.ID]; !ok {
				candidates[e.ID] = e
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	var results []knowledge.WithScore
	for id, e := range candidates {
		tagScore, err := s.tagOverlapScore(ctx, id, c.Tags)
		if err != nil {
			return nil, err
		}
		taskTypeScore := 0.0
		if c.TaskType != "" && e.TaskType != nil && *e.TaskType == c.TaskType {
			taskTypeScore = 1.0
		}
		blended := weightTextSimilarity*textScores[id] + weightTagOverlap*tagScore + weightTaskTypeMatch*taskTypeScore
		results = append(results, knowledge.WithScore{Entry: *e, RelevanceScore: blended})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Entry.Timestamp.After(results[j].Entry.Timestamp)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Service) tagOverlapScore(ctx context.Context, entryID string, queryTags []string) (float64, error) {
	if len(queryTags) == 0 {
		return 0, nil
	}
	tags, err := s.knowledge.GetTagsForKnowledge(ctx, entryID)
	if err != nil {
		return 0, err
	}
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}
	matched := 0
	for _, t := range queryTags {
		if _, ok := tagSet[strings.ToLower(t)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTags)), nil
}

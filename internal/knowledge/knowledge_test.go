package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/persistence"
)

func newTestRepo(t *testing.T) (*Repository, ids.FixedClock) {
	t.Helper()
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := ids.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(store, clock), clock
}

func TestStoreAndGetKnowledgeRoundTrips(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()
	k := Knowledge{
		Type:      TypeFromOutcome,
		SourceID:  "outcome-1",
		Approach:  "ran migration in a transaction",
		Learnings: "sqlite needs WAL mode for concurrent readers",
		Timestamp: clock.Now(),
	}
	taskType := "migration"
	entry, err := repo.StoreKnowledge(ctx, k, nil, []string{"database", "migration"}, &taskType, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := repo.GetKnowledgeByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Approach != k.Approach || got.Learnings != k.Learnings || got.SourceID != k.SourceID {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.KnowledgeType != TypeFromOutcome {
		t.Fatalf("expected FromOutcome, got %s", got.KnowledgeType)
	}

	tags, err := repo.GetTagsForKnowledge(ctx, entry.ID)
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}
}

func TestFindKnowledgeByTagsIsOrMatch(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t1", Approach: "DB migration", Learnings: "", Timestamp: clock.Now()}, nil, []string{"database", "migration"}, nil, nil)
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t2", Approach: "API design", Learnings: "", Timestamp: clock.Now()}, nil, []string{"api"}, nil, nil)

	got, err := repo.FindKnowledgeByTags(ctx, []string{"migration", "api"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}

	none, err := repo.FindKnowledgeByTag(ctx, "security")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestFindSimilarKnowledgeRanksByCoverage(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t1", Approach: "database migration plan", Learnings: "use transactions", Timestamp: clock.Now()}, nil, nil, nil, nil)
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t2", Approach: "database schema only", Learnings: "", Timestamp: clock.Now()}, nil, nil, nil, nil)

	results, err := repo.FindSimilarKnowledge(ctx, "database migration", 10)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Entry.SourceID != "t1" {
		t.Fatalf("expected t1 (2 tokens matched) to rank first, got %s", results[0].Entry.SourceID)
	}
	if results[0].RelevanceScore <= results[1].RelevanceScore {
		t.Fatalf("expected descending coverage score")
	}
}

func TestSearchKnowledgeByContextAndsFilters(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()
	taskType := "migration"
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t1", Approach: "a", Learnings: "b", Timestamp: clock.Now()}, nil, []string{"database"}, &taskType, nil)
	otherType := "design"
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t2", Approach: "c", Learnings: "d", Timestamp: clock.Now()}, nil, []string{"database"}, &otherType, nil)

	kt := TypeFromTask
	results, err := repo.SearchKnowledgeByContext(ctx, ContextFilter{
		KnowledgeType: &kt,
		TaskType:      &taskType,
		Tags:          []string{"database"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].SourceID != "t1" {
		t.Fatalf("expected only t1, got %+v", results)
	}
}

func TestFindKnowledgeByTimeRangeInclusive(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t1", Approach: "a", Learnings: "", Timestamp: t0}, nil, nil, nil, nil)
	repo.StoreKnowledge(ctx, Knowledge{Type: TypeFromTask, SourceID: "t2", Approach: "b", Learnings: "", Timestamp: t1}, nil, nil, nil, nil)

	got, err := repo.FindKnowledgeByTimeRange(ctx, t0, t1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both entries included, got %d", len(got))
	}
	if got[0].SourceID != "t2" {
		t.Fatalf("expected descending order, newest first: %+v", got)
	}
}

package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/persistence"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := ids.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(store, clock)
}

func TestCreateTicketRejectsBlankTitle(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.CreateTicket(context.Background(), "", "desc", TypeTask, PriorityLow, "pm")
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateAndGetTicket(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tk, err := repo.CreateTicket(ctx, "Add X", "desc", TypeTask, PriorityMedium, "pm")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tk.Status != StatusBacklog {
		t.Fatalf("expected Backlog, got %s", tk.Status)
	}
	got, err := repo.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Add X" {
		t.Fatalf("unexpected title: %s", got.Title)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetTicket(context.Background(), "nope")
	if _, ok := err.(*NotFound); !ok {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tk, _ := repo.CreateTicket(ctx, "Add X", "desc", TypeTask, PriorityMedium, "pm")

	_, err := repo.UpdateStatus(ctx, tk.ID, StatusDone)
	ist, ok := err.(*InvalidStateTransition)
	if !ok {
		t.Fatalf("expected InvalidStateTransition, got %v", err)
	}
	if ist.From != StatusBacklog || ist.To != StatusDone {
		t.Fatalf("unexpected transition details: %+v", ist)
	}

	got, _ := repo.GetTicket(ctx, tk.ID)
	if got.Status != StatusBacklog {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
}

func TestUpdateStatusWalksAllowedPath(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tk, _ := repo.CreateTicket(ctx, "Add X", "desc", TypeTask, PriorityMedium, "pm")

	for _, next := range []Status{StatusReady, StatusInProgress, StatusDone} {
		updated, err := repo.UpdateStatus(ctx, tk.ID, next)
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("expected %s, got %s", next, updated.Status)
		}
	}
}

func TestAssignAndUnassignTicket(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tk, _ := repo.CreateTicket(ctx, "Add X", "desc", TypeTask, PriorityMedium, "pm")

	agent := "eng"
	updated, err := repo.AssignTicket(ctx, tk.ID, &agent)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if updated.AssignedAgentID == nil || *updated.AssignedAgentID != "eng" {
		t.Fatalf("expected assigned to eng, got %v", updated.AssignedAgentID)
	}

	updated, err = repo.AssignTicket(ctx, tk.ID, nil)
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if updated.AssignedAgentID != nil {
		t.Fatalf("expected unassigned, got %v", *updated.AssignedAgentID)
	}
}

func TestBacklogSummaryCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.CreateTicket(ctx, "A", "", TypeTask, PriorityLow, "pm")
	repo.CreateTicket(ctx, "B", "", TypeBug, PriorityHigh, "pm")

	summary, err := repo.GetBacklogSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 2 {
		t.Fatalf("expected 2 total, got %d", summary.Total)
	}
	if summary.ByStatus[StatusBacklog] != 2 {
		t.Fatalf("expected 2 in backlog, got %d", summary.ByStatus[StatusBacklog])
	}
	if summary.ByPriority[PriorityHigh] != 1 {
		t.Fatalf("expected 1 high priority, got %d", summary.ByPriority[PriorityHigh])
	}
}

func TestPriorityToUrgencyMapping(t *testing.T) {
	cases := map[Priority]Urgency{
		PriorityLow:      UrgencyLow,
		PriorityMedium:   UrgencyMedium,
		PriorityHigh:     UrgencyHigh,
		PriorityCritical: UrgencyHigh,
	}
	for p, want := range cases {
		if got := PriorityToUrgency(p); got != want {
			t.Fatalf("%s: expected %s, got %s", p, want, got)
		}
	}
}

package retention

import (
	"context"
	"testing"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/persistence"
	"github.com/amperehq/ampere/internal/ticket"
)

func TestSweepPrunesOnlyTicketsPastRetention(t *testing.T) {
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	clock := ids.FixedClock{At: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	tickets := ticket.New(store, clock)
	ctx := context.Background()

	old, err := tickets.CreateTicket(ctx, "Old completed work", "", ticket.TypeTask, ticket.PriorityLow, "pm")
	if err != nil {
		t.Fatalf("create old ticket: %v", err)
	}
	if _, err := tickets.UpdateStatus(ctx, old.ID, ticket.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := tickets.UpdateStatus(ctx, old.ID, ticket.StatusInProgress); err != nil {
		t.Fatalf("in progress: %v", err)
	}
	if _, err := tickets.UpdateStatus(ctx, old.ID, ticket.StatusDone); err != nil {
		t.Fatalf("done: %v", err)
	}

	recent, err := tickets.CreateTicket(ctx, "Still open work", "", ticket.TypeTask, ticket.PriorityLow, "pm")
	if err != nil {
		t.Fatalf("create recent ticket: %v", err)
	}

	// Advance the clock past the retention horizon for the old ticket only.
	laterClock := ids.FixedClock{At: clock.At.Add(100 * 24 * time.Hour)}
	sched := New(Config{
		Tickets:         tickets,
		Clock:           laterClock,
		TicketRetention: 90 * 24 * time.Hour,
		Interval:        time.Hour,
	})

	sched.sweep(ctx)

	if _, err := tickets.GetTicket(ctx, old.ID); err == nil {
		t.Fatalf("expected old terminal ticket to be pruned")
	}
	if _, err := tickets.GetTicket(ctx, recent.ID); err != nil {
		t.Fatalf("expected non-terminal ticket to survive the sweep: %v", err)
	}
}

func TestSweepNeverPrunesNonTerminalTickets(t *testing.T) {
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	clock := ids.FixedClock{At: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	tickets := ticket.New(store, clock)
	ctx := context.Background()

	tk, err := tickets.CreateTicket(ctx, "Ancient but still open", "", ticket.TypeTask, ticket.PriorityLow, "pm")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	laterClock := ids.FixedClock{At: clock.At.Add(1000 * 24 * time.Hour)}
	sched := New(Config{Tickets: tickets, Clock: laterClock, TicketRetention: 24 * time.Hour})
	sched.sweep(ctx)

	if _, err := tickets.GetTicket(ctx, tk.ID); err != nil {
		t.Fatalf("expected Backlog ticket to survive regardless of age: %v", err)
	}
}

func TestSweepPrunesAgedKnowledge(t *testing.T) {
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	clock := ids.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := knowledge.New(store, clock)
	ctx := context.Background()

	entry, err := repo.StoreKnowledge(ctx, knowledge.Knowledge{
		Type: knowledge.TypeFromOutcome, SourceID: "ticket-1", Approach: "retry", Learnings: "backoff helped",
		Timestamp: clock.At,
	}, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("store knowledge: %v", err)
	}

	laterClock := ids.FixedClock{At: clock.At.Add(200 * 24 * time.Hour)}
	sched := New(Config{Knowledge: repo, Clock: laterClock, KnowledgeRetention: 90 * 24 * time.Hour})
	sched.sweep(ctx)

	if _, err := repo.GetKnowledgeByID(ctx, entry.ID); err == nil {
		t.Fatalf("expected aged knowledge entry to be pruned")
	}
}

func TestZeroRetentionDisablesPruning(t *testing.T) {
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	clock := ids.FixedClock{At: time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)}
	tickets := ticket.New(store, clock)
	ctx := context.Background()

	tk, err := tickets.CreateTicket(ctx, "Very old done ticket", "", ticket.TypeTask, ticket.PriorityLow, "pm")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	for _, next := range []ticket.Status{ticket.StatusReady, ticket.StatusInProgress, ticket.StatusDone} {
		if _, err := tickets.UpdateStatus(ctx, tk.ID, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	laterClock := ids.FixedClock{At: clock.At.Add(5000 * 24 * time.Hour)}
	sched := New(Config{Tickets: tickets, Clock: laterClock, TicketRetention: 0})
	sched.sweep(ctx)

	if _, err := tickets.GetTicket(ctx, tk.ID); err != nil {
		t.Fatalf("expected pruning disabled when TicketRetention is zero: %v", err)
	}
}

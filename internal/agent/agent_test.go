package agent

import (
	"context"
	"testing"
	"time"

	"github.com/amperehq/ampere/internal/bus"
	"github.com/amperehq/ampere/internal/escalation"
	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/memory"
	"github.com/amperehq/ampere/internal/orchestrator"
	"github.com/amperehq/ampere/internal/persistence"
	"github.com/amperehq/ampere/internal/planexec"
	"github.com/amperehq/ampere/internal/thread"
	"github.com/amperehq/ampere/internal/ticket"
)

const testAgentID = "agent-1"

type testHarness struct {
	orch    *orchestrator.Orchestrator
	tickets *ticket.Repository
	bus     *bus.Bus
	memory  *memory.Service
	clock   ids.Clock
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := ids.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tickets := ticket.New(store, clock)
	threads := thread.New(store, clock, nil)
	eventBus := bus.New(store, clock, nil)
	classifier := escalation.New(nil)
	orch := orchestrator.New(tickets, threads, eventBus, classifier)
	knowledgeRepo := knowledge.New(store, clock)
	memorySvc := memory.New(knowledgeRepo)

	return &testHarness{orch: orch, tickets: tickets, bus: eventBus, memory: memorySvc, clock: clock}
}

// readyTicket creates a ticket assigned to testAgentID and advances it to
// Ready, the precondition Run expects before it will transition to
// InProgress itself.
func (h *testHarness) readyTicket(t *testing.T, ctx context.Context, description string) *ticket.Ticket {
	t.Helper()
	tk, _, err := h.orch.CreateTicket(ctx, "Add retry budget", description, ticket.TypeTask, ticket.PriorityMedium, testAgentID)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if _, err := h.orch.AssignTicket(ctx, tk.ID, &testAgentID, testAgentID); err != nil {
		t.Fatalf("assign ticket: %v", err)
	}
	updated, err := h.orch.TransitionTicketStatus(ctx, tk.ID, ticket.StatusReady, testAgentID)
	if err != nil {
		t.Fatalf("transition to ready: %v", err)
	}
	return updated
}

func TestRunCompletesTicketOnSuccess(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tk := h.readyTicket(t, ctx, "Add an exponential backoff to the retry loop.")

	a := New(testAgentID, "engineering", State{Kind: StateBlank}, h.tickets, h.orch, h.bus, h.memory, nil, h.clock, nil, Hooks{})

	result, err := a.Run(ctx, tk.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Perceived {
		t.Fatalf("expected perceive to propose an idea")
	}
	if result.Blocked {
		t.Fatalf("expected a clean completion, got blocked")
	}
	if result.Outcome.Kind != planexec.OutcomeNoChangesSuccess {
		t.Fatalf("expected NoChanges.Success outcome, got %s", result.Outcome.Kind)
	}

	updated, err := h.tickets.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if updated.Status != ticket.StatusDone {
		t.Fatalf("expected ticket to reach Done, got %s", updated.Status)
	}

	if a.stack.Depth() != 0 {
		t.Fatalf("expected spark stack back at baseline after Run, got depth %d", a.stack.Depth())
	}
}

func TestRunAbortsWithNoSideEffectsWhenDescriptionEmpty(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tk := h.readyTicket(t, ctx, "")

	a := New(testAgentID, "engineering", State{Kind: StateBlank}, h.tickets, h.orch, h.bus, h.memory, nil, h.clock, nil, Hooks{})

	result, err := a.Run(ctx, tk.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Perceived {
		t.Fatalf("expected perceive to produce no ideas for an empty description")
	}

	updated, err := h.tickets.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if updated.Status != ticket.StatusReady {
		t.Fatalf("expected ticket status untouched at Ready, got %s", updated.Status)
	}

	if a.stack.Depth() != 0 {
		t.Fatalf("expected spark stack back at baseline after an aborted run, got depth %d", a.stack.Depth())
	}
}

func TestRunBlocksTicketOnCriticalStepFailure(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tk := h.readyTicket(t, ctx, "Migrate the queue consumer to the new driver.")

	failingStep := func(ctx context.Context, step planexec.Task, stepContext map[string]string) (planexec.StepResult, map[string]string, error) {
		return planexec.StepResult{Status: planexec.StepResultFailure, IsCritical: true, Message: "driver incompatible"}, nil, nil
	}
	a := New(testAgentID, "engineering", State{Kind: StateBlank}, h.tickets, h.orch, h.bus, h.memory, nil, h.clock, nil,
		Hooks{RunStep: failingStep})

	result, err := a.Run(ctx, tk.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Blocked {
		t.Fatalf("expected the ticket to be blocked after a critical step failure")
	}
	if result.Outcome.Kind != planexec.OutcomeNoChangesFailure {
		t.Fatalf("expected NoChanges.Failure outcome, got %s", result.Outcome.Kind)
	}

	updated, err := h.tickets.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if updated.Status != ticket.StatusBlocked {
		t.Fatalf("expected ticket to reach Blocked, got %s", updated.Status)
	}
}

func TestRunStoresKnowledgeWhenMemoryIsWired(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tk := h.readyTicket(t, ctx, "Add a circuit breaker around the downstream client.")

	a := New(testAgentID, "engineering", State{Kind: StateBlank}, h.tickets, h.orch, h.bus, h.memory, nil, h.clock, nil, Hooks{})

	received := make(chan bus.Event, 1)
	sub := h.bus.Subscribe("watcher", bus.ByType("KnowledgeStored"), func(ctx context.Context, e bus.Event) {
		received <- e
	})
	defer sub.Cancel()

	if _, err := a.Run(ctx, tk.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for KnowledgeStored")
	}
}

func TestDelegateToAssignsAndPublishesTaskAssigned(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tk, _, err := h.orch.CreateTicket(ctx, "Spike on caching layer", "Evaluate ristretto vs. an LRU map.", ticket.TypeTask, ticket.PriorityLow, testAgentID)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	a := New(testAgentID, "coordination", State{Kind: StateBlank}, h.tickets, h.orch, h.bus, h.memory, nil, h.clock, nil, Hooks{})

	received := make(chan bus.Event, 1)
	sub := h.bus.Subscribe("watcher", bus.ByType("TaskAssigned"), func(ctx context.Context, e bus.Event) {
		received <- e
	})
	defer sub.Cancel()

	if err := a.DelegateTo(ctx, tk.ID, "agent-2", "please take this one"); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	updated, err := h.tickets.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if updated.AssignedAgentID == nil || *updated.AssignedAgentID != "agent-2" {
		t.Fatalf("expected ticket assigned to agent-2, got %+v", updated.AssignedAgentID)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TaskAssigned")
	}

	if a.stack.Depth() != 0 {
		t.Fatalf("expected spark stack back at baseline after DelegateTo, got depth %d", a.stack.Depth())
	}
}

package escalation

import (
	"testing"

	"github.com/amperehq/ampere/internal/ticket"
)

func TestClassifyKeywordArchitecture(t *testing.T) {
	c := New(nil)
	d := c.Classify("We need to revisit the service architecture before continuing.", ticket.PriorityMedium, false)
	if !d.Matched {
		t.Fatal("expected a match")
	}
	if d.Kind != KindDiscussionArchitecture {
		t.Fatalf("expected Discussion.Architecture, got %s", d.Kind)
	}
	if !d.RequiresMeeting {
		t.Fatal("expected requiresMeeting true for 'architecture'")
	}
	if d.RequiresHuman {
		t.Fatal("expected requiresHuman false for pure architecture keyword")
	}
}

func TestClassifyKeywordHumanApproval(t *testing.T) {
	c := New(nil)
	d := c.Classify("This change needs manager sign-off before we ship.", ticket.PriorityMedium, false)
	if !d.RequiresHuman {
		t.Fatal("expected requiresHuman true for 'sign-off'/'manager'")
	}
	if d.Process != ProcessHumanApproval && d.Process != ProcessHumanMeeting {
		t.Fatalf("expected a human-facing process, got %s", d.Process)
	}
}

func TestClassifyNoMatchWithoutLLM(t *testing.T) {
	c := New(nil)
	d := c.Classify("Implement the retry loop and add unit tests.", ticket.PriorityLow, false)
	if d.Matched {
		t.Fatalf("expected no match, got %+v", d)
	}
}

func TestUrgencyElevatesOnCriticalPriority(t *testing.T) {
	c := New(nil)
	d := c.Classify("Plain text with no signal words.", ticket.PriorityCritical, false)
	if d.Urgency != ticket.UrgencyCritical {
		t.Fatalf("expected CRITICAL urgency, got %s", d.Urgency)
	}
}

func TestUrgencyElevatesOnOverdue(t *testing.T) {
	c := New(nil)
	d := c.Classify("Plain text with no signal words.", ticket.PriorityLow, true)
	if d.Urgency != ticket.UrgencyCritical {
		t.Fatalf("expected CRITICAL urgency on overdue, got %s", d.Urgency)
	}
}

type stubLLM struct {
	kind string
	err  error
}

func (s stubLLM) Classify(prompt string) (string, error) { return s.kind, s.err }

func TestLLMFallbackUsedWhenKeywordsMiss(t *testing.T) {
	c := New(stubLLM{kind: string(KindPrioritiesConflict)})
	d := c.Classify("Two workstreams are fighting over the same window.", ticket.PriorityMedium, false)
	if !d.Matched {
		t.Fatal("expected LLM fallback to produce a match")
	}
	if d.Kind != KindPrioritiesConflict {
		t.Fatalf("expected Priorities.Conflict from LLM fallback, got %s", d.Kind)
	}
}

func TestLLMFallbackParsesKindFromProse(t *testing.T) {
	c := New(stubLLM{kind: "This looks like a Priorities.Conflict situation between the two teams."})
	d := c.Classify("Two workstreams are fighting over the same window.", ticket.PriorityMedium, false)
	if !d.Matched {
		t.Fatal("expected LLM fallback to produce a match from prose containing the kind")
	}
	if d.Kind != KindPrioritiesConflict {
		t.Fatalf("expected Priorities.Conflict parsed out of prose, got %s", d.Kind)
	}
}

// Package ticket is the thin layer over persistence.Store for Ticket rows,
// ticket_meeting associations, and backlog/workload analytics.
package ticket

import (
	"fmt"
	"time"
)

// Type is the kind of work a ticket represents.
type Type string

const (
	TypeTask    Type = "TASK"
	TypeFeature Type = "FEATURE"
	TypeBug     Type = "BUG"
	TypeChore   Type = "CHORE"
	TypeEpic    Type = "EPIC"
)

// Priority is the ticket's reported priority, independent of event urgency.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Urgency is the coarser severity carried on published events.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// PriorityToUrgency maps a ticket priority to the urgency carried on the
// events its lifecycle produces. CRITICAL priority tickets still cap at
// HIGH urgency on status-change events; only a blockage pushes urgency to
// CRITICAL, and that decision belongs to the escalation classifier.
func PriorityToUrgency(p Priority) Urgency {
	switch p {
	case PriorityLow:
		return UrgencyLow
	case PriorityMedium:
		return UrgencyMedium
	case PriorityHigh, PriorityCritical:
		return UrgencyHigh
	default:
		return UrgencyLow
	}
}

// Status is a ticket's position in the lifecycle state machine.
type Status string

const (
	StatusBacklog    Status = "Backlog"
	StatusReady      Status = "Ready"
	StatusInProgress Status = "InProgress"
	StatusBlocked    Status = "Blocked"
	StatusInReview   Status = "InReview"
	StatusDone       Status = "Done"
	StatusCancelled  Status = "Cancelled"
)

// allowedTransitions is the directed status transition graph. Terminal
// states (Done, Cancelled) have no outgoing edges.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusBacklog: {
		StatusReady:     {},
		StatusCancelled: {},
	},
	StatusReady: {
		StatusInProgress: {},
		StatusBacklog:    {},
		StatusCancelled:  {},
	},
	StatusInProgress: {
		StatusBlocked:   {},
		StatusInReview:  {},
		StatusDone:      {},
		StatusCancelled: {},
	},
	StatusBlocked: {
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusInReview: {
		StatusInProgress: {},
		StatusDone:       {},
		StatusCancelled:  {},
	},
}

// CanTransition reports whether from -> to is an edge of the transition graph.
func CanTransition(from, to Status) bool {
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}

// IsTerminal reports whether status has no outgoing transitions.
func IsTerminal(status Status) bool {
	return status == StatusDone || status == StatusCancelled
}

// Ticket is a work item with a status lifecycle.
type Ticket struct {
	ID                string
	Title             string
	Description       string
	Type              Type
	Priority          Priority
	Status            Status
	AssignedAgentID   *string
	CreatedByAgentID  string
	ThreadID          *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DueDate           *time.Time
}

// Error kinds returned by mutating TicketRepository operations. Every
// mutating call returns one of these (wrapped with fmt.Errorf) or nil.
type InvalidStateTransition struct {
	From Status
	To   Status
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

type NotFound struct {
	ID string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("ticket not found: %s", e.ID)
}

type DatabaseError struct {
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error: %v", e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Msg)
}

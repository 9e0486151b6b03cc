// Package orchestrator implements TicketOrchestrator: the component
// that coordinates ticket.Repository, thread.API, and bus.Bus into the
// single logical transactions a ticket's lifecycle is built from.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/amperehq/ampere/internal/audit"
	"github.com/amperehq/ampere/internal/bus"
	"github.com/amperehq/ampere/internal/escalation"
	"github.com/amperehq/ampere/internal/thread"
	"github.com/amperehq/ampere/internal/ticket"
	"github.com/amperehq/ampere/internal/tracing"
)

// tracer is the ticket-lifecycle tracer. It resolves against whatever
// TracerProvider tracing.Init registered globally; when tracing is
// disabled, that provider is a no-op and every span below costs nothing.
var tracer = otel.Tracer(tracing.TracerName)

// PermissionError reports a mutation attempted by an actor who is
// neither the ticket's assignee nor its creator.
type PermissionError struct {
	TicketID string
	Actor    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %q does not have permission to mutate ticket %s", e.Actor, e.TicketID)
}

// Orchestrator is the TicketOrchestrator.
type Orchestrator struct {
	tickets    *ticket.Repository
	threads    *thread.API
	bus        *bus.Bus
	classifier *escalation.Classifier
	metrics    *tracing.Metrics
}

// New wires an Orchestrator over its three stores plus the escalation
// classifier. Metrics are unset until SetMetrics is called; every
// instrument access below is nil-checked so an Orchestrator built
// without metrics (as in tests) behaves exactly as before.
func New(tickets *ticket.Repository, threads *thread.API, eventBus *bus.Bus, classifier *escalation.Classifier) *Orchestrator {
	return &Orchestrator{tickets: tickets, threads: threads, bus: eventBus, classifier: classifier}
}

// SetMetrics attaches the coordination-core metric instruments. Called
// once at startup after tracing.Init has produced a meter; left unset,
// the orchestrator records spans but no metrics.
func (o *Orchestrator) SetMetrics(m *tracing.Metrics) {
	o.metrics = m
}

// checkPermission enforces the ticket mutation permission invariant and
// audits the outcome: a denial is recorded so a pattern of rejected
// mutation attempts against one ticket shows up in the audit trail, not
// just as an error returned to the caller.
func (o *Orchestrator) checkPermission(ctx context.Context, t *ticket.Ticket, actor string) error {
	if (t.AssignedAgentID != nil && *t.AssignedAgentID == actor) || t.CreatedByAgentID == actor {
		return nil
	}
	audit.Record(ctx, "deny", "ticket.mutate", "actor is neither assignee nor creator", "", t.ID)
	return &PermissionError{TicketID: t.ID, Actor: actor}
}

// CreateTicket persists a new ticket, opens its engineering thread, and
// publishes TicketCreated. If persistence of the ticket itself fails, no
// thread is created and no event is published.
func (o *Orchestrator) CreateTicket(ctx context.Context, title, description string, typ ticket.Type, priority ticket.Priority, createdBy string) (*ticket.Ticket, *thread.MessageThread, error) {
	ctx, span := tracing.StartOrchestrationSpan(ctx, tracer, "createTicket",
		attribute.String("ampere.ticket.type", string(typ)),
	)
	defer span.End()

	t, err := o.tickets.CreateTicket(ctx, title, description, typ, priority, createdBy)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	span.SetAttributes(tracing.AttrTicketID.String(t.ID))
	if o.metrics != nil {
		o.metrics.TicketsCreated.Add(ctx, 1)
	}

	th, err := o.threads.CreateThread(ctx, []string{createdBy}, "Engineering.Public",
		fmt.Sprintf("Ticket created: %s", title))
	if err != nil {
		return t, nil, err
	}
	if err := o.tickets.SetThreadID(ctx, t.ID, th.ID); err != nil {
		return t, th, err
	}
	if err := o.threads.SetTicketID(ctx, th.ID, t.ID); err != nil {
		return t, th, err
	}
	t.ThreadID = &th.ID

	_, _ = o.bus.Publish(ctx, "TicketCreated", "Ticket", bus.AgentSource(createdBy),
		bus.Urgency(ticket.PriorityToUrgency(priority)), ticketCreatedPayload{
			TicketID: t.ID, Title: t.Title, Priority: t.Priority,
		})

	return t, th, nil
}

type ticketCreatedPayload struct {
	TicketID string          `json:"ticketId"`
	Title    string          `json:"title"`
	Priority ticket.Priority `json:"priority"`
}

// TransitionTicketStatus validates actor's permission and the status
// transition, applies it, reopens the thread if it was WaitingForHuman
// due to a prior block, posts a status-change message, and publishes
// TicketStatusChanged.
func (o *Orchestrator) TransitionTicketStatus(ctx context.Context, id string, newStatus ticket.Status, actor string) (*ticket.Ticket, error) {
	ctx, span := tracing.StartOrchestrationSpan(ctx, tracer, "transitionTicketStatus",
		tracing.AttrTicketID.String(id),
		tracing.AttrTicketStatus.String(string(newStatus)),
	)
	defer span.End()
	start := time.Now()

	t, err := o.tickets.GetTicket(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.checkPermission(ctx, t, actor); err != nil {
		return nil, err
	}
	previous := t.Status

	updated, err := o.tickets.UpdateStatus(ctx, id, newStatus)
	if err != nil {
		if o.metrics != nil {
			o.metrics.TicketTransitionErrors.Add(ctx, 1)
		}
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.TicketTransitionDuration.Record(ctx, time.Since(start).Seconds())
	}

	if previous == ticket.StatusBlocked && updated.ThreadID != nil {
		if err := o.threads.ReopenThread(ctx, *updated.ThreadID); err != nil {
			return updated, err
		}
	}
	if updated.ThreadID != nil {
		_, _ = o.threads.PostMessage(ctx, *updated.ThreadID, actor,
			fmt.Sprintf("Status changed: %s -> %s", previous, newStatus), false)
	}

	_, _ = o.bus.Publish(ctx, "TicketStatusChanged", "Ticket", bus.AgentSource(actor),
		bus.Urgency(ticket.PriorityToUrgency(updated.Priority)), ticketStatusChangedPayload{
			TicketID: id, Previous: previous, New: newStatus, ChangedBy: actor,
		})

	return updated, nil
}

type ticketStatusChangedPayload struct {
	TicketID  string        `json:"ticketId"`
	Previous  ticket.Status `json:"previous"`
	New       ticket.Status `json:"new"`
	ChangedBy string        `json:"changedBy"`
}

// AssignTicket validates permission, writes the new assignee (nil
// unassigns), publishes TicketAssigned, and posts a notice to the thread.
func (o *Orchestrator) AssignTicket(ctx context.Context, id string, target *string, assigner string) (*ticket.Ticket, error) {
	ctx, span := tracing.StartOrchestrationSpan(ctx, tracer, "assignTicket", tracing.AttrTicketID.String(id))
	defer span.End()

	t, err := o.tickets.GetTicket(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := o.checkPermission(ctx, t, assigner); err != nil {
		return nil, err
	}

	updated, err := o.tickets.AssignTicket(ctx, id, target)
	if err != nil {
		return nil, err
	}

	_, _ = o.bus.Publish(ctx, "TicketAssigned", "Ticket", bus.AgentSource(assigner),
		bus.Urgency(ticket.PriorityToUrgency(updated.Priority)), ticketAssignedPayload{
			TicketID: id, AssignedTo: target, AssignedBy: assigner,
		})

	if updated.ThreadID != nil {
		notice := "Ticket unassigned"
		if target != nil {
			notice = fmt.Sprintf("Ticket assigned to %s", *target)
		}
		_, _ = o.threads.PostMessage(ctx, *updated.ThreadID, assigner, notice, false)
	}

	return updated, nil
}

type ticketAssignedPayload struct {
	TicketID   string  `json:"ticketId"`
	AssignedTo *string `json:"assignedTo"`
	AssignedBy string  `json:"assignedBy"`
}

// BlockTicket transitions a ticket to Blocked, classifies reason to
// decide the escalation process, publishes TicketBlocked at HIGH
// urgency, and escalates the ticket's thread to a human.
func (o *Orchestrator) BlockTicket(ctx context.Context, id, reason, reportedBy string) (*ticket.Ticket, escalation.Decision, error) {
	ctx, span := tracing.StartOrchestrationSpan(ctx, tracer, "blockTicket", tracing.AttrTicketID.String(id))
	defer span.End()

	t, err := o.tickets.GetTicket(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, escalation.Decision{}, err
	}
	if err := o.checkPermission(ctx, t, reportedBy); err != nil {
		return nil, escalation.Decision{}, err
	}
	if !ticket.CanTransition(t.Status, ticket.StatusBlocked) {
		return nil, escalation.Decision{}, &ticket.InvalidStateTransition{From: t.Status, To: ticket.StatusBlocked}
	}

	updated, err := o.tickets.UpdateStatus(ctx, id, ticket.StatusBlocked)
	if err != nil {
		return nil, escalation.Decision{}, err
	}

	overdue := o.tickets.IsOverdue(updated)
	decision := o.classifier.Classify(reason, updated.Priority, overdue)
	span.SetAttributes(
		attribute.Bool("ampere.escalation.matched", decision.Matched),
		tracing.AttrEscalation.String(string(decision.Kind)),
	)
	if o.metrics != nil {
		o.metrics.EscalationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("ampere.escalation.process", string(decision.Process)),
		))
	}

	_, _ = o.bus.Publish(ctx, "TicketBlocked", "Ticket", bus.AgentSource(reportedBy),
		bus.UrgencyHigh, ticketBlockedPayload{
			TicketID: id, Reason: reason, ReportedBy: reportedBy,
		})

	if updated.ThreadID != nil {
		err = o.threads.EscalateToHuman(ctx, *updated.ThreadID, reason, map[string]string{
			"ticketId":   id,
			"title":      updated.Title,
			"reportedBy": reportedBy,
			"priority":   string(updated.Priority),
		})
		if err != nil {
			return updated, decision, err
		}
	}

	return updated, decision, nil
}

type ticketBlockedPayload struct {
	TicketID   string `json:"ticketId"`
	Reason     string `json:"reason"`
	ReportedBy string `json:"reportedBy"`
}

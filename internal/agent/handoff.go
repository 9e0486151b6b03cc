package agent

import (
	"context"

	"github.com/amperehq/ampere/internal/bus"
	"github.com/amperehq/ampere/internal/spark"
)

// DelegateTo is the coordinator side of a multi-agent handoff: it pushes
// CoordinationSpark.Handoff for the duration of the call, assigns the
// ticket to workerAgentID through the orchestrator (so the permission and
// event-publishing invariants stay centralized there), and publishes
// TaskAssigned so the worker's own loop can pick the ticket up at EXECUTE.
func (a *Agent) DelegateTo(ctx context.Context, ticketID, workerAgentID, note string) error {
	defer a.pushSpark(spark.CoordinationSpark.Handoff(a.ID, workerAgentID, note))()

	if _, err := a.orchestrator.AssignTicket(ctx, ticketID, &workerAgentID, a.ID); err != nil {
		return err
	}

	_, err := a.bus.Publish(ctx, "TaskAssigned", "Plan", bus.AgentSource(a.ID), bus.UrgencyMedium,
		taskAssignedPayload{TicketID: ticketID, AgentID: workerAgentID, Note: note})
	return err
}

type taskAssignedPayload struct {
	TicketID string `json:"ticketId"`
	AgentID  string `json:"agentId"`
	Note     string `json:"note"`
}

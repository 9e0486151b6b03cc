package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/amperehq/ampere/internal/bus"
	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/planexec"
	"github.com/amperehq/ampere/internal/spark"
	"github.com/amperehq/ampere/internal/ticket"
)

// RunResult summarizes one PROPEL cycle over a ticket, for callers (tests,
// cmd/ampered) that want to observe what happened without re-deriving it
// from the event stream.
type RunResult struct {
	Perceived bool // false when PERCEIVE produced no ideas
	Outcome   planexec.Outcome
	Blocked   bool
}

// Run executes one full PERCEIVE-RECALL-PLAN-EXECUTE-LEARN cycle over
// ticketID, called when the agent receives TicketAssigned{assignedTo=self}.
func (a *Agent) Run(ctx context.Context, ticketID string) (RunResult, error) {
	t, err := a.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return RunResult{}, err
	}

	perception, err := a.perceive(ctx, t)
	if err != nil {
		return RunResult{}, err
	}
	if len(perception.Ideas) == 0 {
		a.logger.Info("perceive produced no ideas, aborting with no side effects", "agent_id", a.ID, "ticket_id", t.ID)
		return RunResult{Perceived: false}, nil
	}
	idea := perception.Ideas[0]

	recalled, err := a.recall(ctx, idea, t)
	if err != nil {
		return RunResult{}, err
	}

	plan, err := a.plan(ctx, idea, t, recalled)
	if err != nil {
		return RunResult{}, err
	}

	result := a.execute(ctx, t, plan)

	outcome, blocked, err := a.learn(ctx, t, plan, result)
	if err != nil {
		return RunResult{Outcome: result.Outcome}, err
	}

	return RunResult{Perceived: true, Outcome: outcome, Blocked: blocked}, nil
}

func (a *Agent) perceive(ctx context.Context, t *ticket.Ticket) (Perception, error) {
	defer a.pushPhase(spark.PhasePerceive)()
	recent := a.recentEventTypes(ctx, t.ID)
	return a.hooks.Perceive(ctx, a, t, recent)
}

func (a *Agent) recentEventTypes(ctx context.Context, ticketID string) []string {
	var out []string
	until := a.clock.Now()
	since := until.Add(-time.Hour)
	_ = a.bus.ReplayEvents(ctx, since, until, bus.CatchAll(), func(ctx context.Context, e bus.Event) {
		out = append(out, e.EventType)
	})
	return out
}

func (a *Agent) recall(ctx context.Context, idea Idea, t *ticket.Ticket) ([]knowledge.WithScore, error) {
	if a.memory == nil {
		return nil, nil
	}
	return a.memory.RecallRelevantKnowledge(ctx, toMemoryContext(idea, t), 10)
}

func (a *Agent) plan(ctx context.Context, idea Idea, t *ticket.Ticket, recalled []knowledge.WithScore) (planexec.Plan, error) {
	defer a.pushPhase(spark.PhasePlan)()

	built, err := a.hooks.BuildPlan(ctx, a, idea, t, recalled)
	if err != nil {
		return planexec.Plan{}, err
	}

	_, _ = a.bus.Publish(ctx, "PlanStepStarted", "Plan", bus.AgentSource(a.ID),
		bus.Urgency(ticket.PriorityToUrgency(t.Priority)), planStepStartedPayload{
			TicketID: t.ID, StepCount: len(built.Steps),
		})

	if t.Status == ticket.StatusReady {
		if _, err := a.orchestrator.TransitionTicketStatus(ctx, t.ID, ticket.StatusInProgress, a.ID); err != nil {
			return built, err
		}
	}

	return built, nil
}

type planStepStartedPayload struct {
	TicketID  string `json:"ticketId"`
	StepCount int    `json:"stepCount"`
}

func (a *Agent) execute(ctx context.Context, t *ticket.Ticket, plan planexec.Plan) planexec.ExecutionResult {
	defer a.pushPhase(spark.PhaseExecute)()

	result := a.executor.Execute(ctx, t.ID, plan, a.hooks.RunStep)

	for i, step := range plan.Steps {
		if i >= len(result.StepOutcomes) {
			break
		}
		outcome := result.StepOutcomes[i]
		if outcome.Kind != planexec.StepOutcomeSuccess || step.Kind != planexec.TaskKindCodeChange || len(outcome.ChangedFiles) == 0 {
			continue
		}
		for _, filePath := range outcome.ChangedFiles {
			_, _ = a.bus.Publish(ctx, "CodeSubmitted", "Code", bus.AgentSource(a.ID),
				bus.Urgency(ticket.PriorityToUrgency(t.Priority)), codeSubmittedPayload{
					FilePath: filePath, ChangeDescription: step.Description, ReviewRequired: false,
				})
		}
	}

	return result
}

type codeSubmittedPayload struct {
	FilePath          string `json:"filePath"`
	ChangeDescription string `json:"changeDescription"`
	ReviewRequired    bool   `json:"reviewRequired"`
}

// learn runs LEARN, then transitions the ticket to Done on a clean
// execution or blocks it (with an escalation decision) on failure.
func (a *Agent) learn(ctx context.Context, t *ticket.Ticket, plan planexec.Plan, result planexec.ExecutionResult) (planexec.Outcome, bool, error) {
	defer a.pushPhase(spark.PhaseLearn)()

	extracted := a.hooks.ExtractKnowledge(a, result.Outcome, t, plan)
	taskType := string(t.Type)
	if a.memory != nil {
		if _, err := a.memory.StoreKnowledge(ctx, toKnowledgeEntry(extracted), &a.ID,
			[]string{string(t.Type), string(t.Priority)}, &taskType, nil); err != nil {
			return result.Outcome, false, err
		}
		_, _ = a.bus.Publish(ctx, "KnowledgeStored", "Knowledge", bus.AgentSource(a.ID),
			bus.UrgencyLow, knowledgeStoredPayload{TicketID: t.ID, SourceID: extracted.SourceID})
	}

	if result.Outcome.Kind == planexec.OutcomeNoChangesSuccess {
		if _, err := a.orchestrator.TransitionTicketStatus(ctx, t.ID, ticket.StatusDone, a.ID); err != nil {
			return result.Outcome, false, err
		}
		return result.Outcome, false, nil
	}

	reason := fmt.Sprintf("plan execution failed: %s", result.Outcome.Message)
	if _, _, err := a.orchestrator.BlockTicket(ctx, t.ID, reason, a.ID); err != nil {
		return result.Outcome, false, err
	}
	return result.Outcome, true, nil
}

type knowledgeStoredPayload struct {
	TicketID string `json:"ticketId"`
	SourceID string `json:"sourceId"`
}

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/planexec"
	"github.com/amperehq/ampere/internal/ticket"
)

// Knowledge.FromOutcome: the LEARN phase's output before it is handed to
// memoryService.storeKnowledge.
type Knowledge struct {
	SourceID  string
	Approach  string
	Learnings string
	Timestamp time.Time
}

// Hooks are the pieces of PROPEL that are genuinely content decisions
// (what idea to pursue, how to turn it into plan steps, what a step
// actually does, what was learned) rather than orchestration. Each has a
// deterministic default so an Agent is fully exercisable without a real
// LlmProvider; callers needing LLM-backed behavior override any subset.
type Hooks struct {
	// Perceive reads the ticket and recent events and proposes ideas.
	Perceive func(ctx context.Context, a *Agent, t *ticket.Ticket, recent []string) (Perception, error)

	// BuildPlan turns the chosen idea into a plan of CodeChange steps.
	BuildPlan func(ctx context.Context, a *Agent, idea Idea, t *ticket.Ticket, recalled []knowledge.WithScore) (planexec.Plan, error)

	// RunStep executes one plan step. Defaults to calling the agent's
	// LLMProvider with the step's description as the user prompt.
	RunStep planexec.StepExecutor

	// ExtractKnowledge turns a finished plan execution into the
	// knowledge entry LEARN persists.
	ExtractKnowledge func(a *Agent, outcome planexec.Outcome, t *ticket.Ticket, plan planexec.Plan) Knowledge
}

// defaultPerceive proposes exactly one idea: do what the ticket describes.
// A ticket with an empty description produces no ideas, matching the
// "abort with no side-effects" edge case.
func defaultPerceive(ctx context.Context, a *Agent, t *ticket.Ticket, recent []string) (Perception, error) {
	state := State{Kind: StateWorking, TicketID: t.ID, Notes: fmt.Sprintf("working ticket %s", t.ID)}
	if t.Description == "" {
		return Perception{CurrentState: state}, nil
	}
	return Perception{
		CurrentState: state,
		Ideas: []Idea{{
			Description: t.Description,
			TaskType:    string(t.Type),
			Tags:        []string{string(t.Type), string(t.Priority)},
			Complexity:  1,
		}},
	}, nil
}

// defaultBuildPlan produces a single-step plan that carries the idea's
// description forward as the one CodeChange task to execute.
func defaultBuildPlan(ctx context.Context, a *Agent, idea Idea, t *ticket.Ticket, recalled []knowledge.WithScore) (planexec.Plan, error) {
	step := planexec.CodeChange(t.ID+"-step-1", idea.Description, t.AssignedAgentID)
	return planexec.ForTask(step, []planexec.Task{step}, idea.Complexity), nil
}

// defaultRunStep asks the agent's LLMProvider to carry out the step when
// one is configured, else reports success trivially (there being nothing
// to execute a code change against without a real collaborator).
func (a *Agent) defaultRunStep(ctx context.Context, step planexec.Task, stepContext map[string]string) (planexec.StepResult, map[string]string, error) {
	if a.llm == nil {
		return planexec.StepResult{Status: planexec.StepResultSuccess, Message: step.Description}, nil, nil
	}
	reply, err := a.askLLM(ctx, step.Description)
	if err != nil {
		return planexec.StepResult{}, nil, err
	}
	return planexec.StepResult{Status: planexec.StepResultSuccess, Message: reply}, nil, nil
}

// defaultExtractKnowledge records the aggregate outcome's summary as the
// learnings, and the ticket's title/description as the approach taken.
func defaultExtractKnowledge(a *Agent, outcome planexec.Outcome, t *ticket.Ticket, plan planexec.Plan) Knowledge {
	return Knowledge{
		SourceID:  outcome.TicketID,
		Approach:  t.Title,
		Learnings: outcome.Message,
		Timestamp: a.clock.Now(),
	}
}

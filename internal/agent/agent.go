// Package agent implements the PROPEL cognitive loop: an agent's
// perceive-recall-plan-execute-learn cycle over a single ticket, each
// phase scoped by a pushed-then-popped spark on the agent's SparkStack.
package agent

import (
	"context"
	"log/slog"

	"github.com/amperehq/ampere/internal/bus"
	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/knowledge"
	"github.com/amperehq/ampere/internal/memory"
	"github.com/amperehq/ampere/internal/orchestrator"
	"github.com/amperehq/ampere/internal/planexec"
	"github.com/amperehq/ampere/internal/spark"
	"github.com/amperehq/ampere/internal/ticket"
)

// StateKind tags which variant of the AgentState union a value holds.
type StateKind string

const (
	StateBlank   StateKind = "Blank"
	StateWorking StateKind = "Working"
)

// State is the agent's own working-state value, read at the start of
// PERCEIVE and replaced by whatever PERCEIVE decides it should become.
type State struct {
	Kind     StateKind
	TicketID string
	Notes    string
}

// Idea is a single candidate action PERCEIVE can produce.
type Idea struct {
	Description string
	TaskType    string
	Tags        []string
	Complexity  int
}

// Perception is PERCEIVE's output.
type Perception struct {
	CurrentState State
	Ideas        []Idea
}

// LLMProvider is the external LlmProvider collaborator: given a system
// prompt (always the agent's current stack.BuildSystemPrompt()) and a
// user prompt, it returns a response string.
type LLMProvider func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Agent is {id, affinity, initialState, memoryService?, llmProvider} plus
// the collaborators its loop needs to read tickets, mutate them through
// the orchestrator, and execute plans. Escalation classification on an
// unrecoverable failure happens inside TicketOrchestrator.BlockTicket, so
// the agent itself does not hold a classifier.
type Agent struct {
	ID           string
	Affinity     string
	initialState State

	tickets      *ticket.Repository
	orchestrator *orchestrator.Orchestrator
	bus          *bus.Bus
	memory       *memory.Service // optional: nil means RECALL always returns nothing
	executor     *planexec.Executor
	llm          LLMProvider
	clock        ids.Clock
	logger       *slog.Logger

	hooks Hooks
	stack spark.SparkStack
}

// New wires an Agent over its collaborators. memorySvc and llm may be nil.
// Any unset Hooks field falls back to a deterministic default; RunStep's
// default additionally uses llm when one is given.
func New(id, affinity string, initialState State, tickets *ticket.Repository, orch *orchestrator.Orchestrator,
	eventBus *bus.Bus, memorySvc *memory.Service, llm LLMProvider,
	clock ids.Clock, logger *slog.Logger, hooks Hooks) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		ID: id, Affinity: affinity, initialState: initialState,
		tickets: tickets, orchestrator: orch, bus: eventBus, memory: memorySvc,
		executor: planexec.New(id, clock), llm: llm,
		clock: clock, logger: logger,
		stack: spark.NewStack(affinity),
	}
	if hooks.Perceive == nil {
		hooks.Perceive = defaultPerceive
	}
	if hooks.BuildPlan == nil {
		hooks.BuildPlan = defaultBuildPlan
	}
	if hooks.ExtractKnowledge == nil {
		hooks.ExtractKnowledge = defaultExtractKnowledge
	}
	if hooks.RunStep == nil {
		hooks.RunStep = a.defaultRunStep
	}
	a.hooks = hooks
	return a
}

// SetPlanMaxSteps bounds the size of plans this agent's executor will
// run; a plan exceeding it fails outright instead of running partway.
func (a *Agent) SetPlanMaxSteps(n int) {
	a.executor.SetMaxSteps(n)
}

// pushSpark pushes s and returns a function that pops it, guaranteed to
// run on every exit path of the calling phase via defer.
func (a *Agent) pushSpark(s spark.Spark) func() {
	a.stack = a.stack.Push(s)
	return func() {
		if popped, _, ok := a.stack.Pop(); ok {
			a.stack = popped
		}
	}
}

// pushPhase pushes phase's PhaseSpark.
func (a *Agent) pushPhase(phase string) func() {
	return a.pushSpark(spark.PhaseSpark(phase))
}

func (a *Agent) systemPrompt() string {
	return a.stack.BuildSystemPrompt()
}

func (a *Agent) askLLM(ctx context.Context, userPrompt string) (string, error) {
	if a.llm == nil {
		return "", nil
	}
	return a.llm(ctx, a.systemPrompt(), userPrompt)
}

func toMemoryContext(idea Idea, t *ticket.Ticket) memory.Context {
	return memory.Context{
		TaskType:    idea.TaskType,
		Tags:        idea.Tags,
		Description: idea.Description,
	}
}

func toKnowledgeEntry(k Knowledge) knowledge.Knowledge {
	return knowledge.Knowledge{
		Type:      knowledge.TypeFromOutcome,
		SourceID:  k.SourceID,
		Approach:  k.Approach,
		Learnings: k.Learnings,
		Timestamp: k.Timestamp,
	}
}

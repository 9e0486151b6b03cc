package planexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amperehq/ampere/internal/ids"
)

// StepResultStatus is the status a StepExecutor reports for a single step.
type StepResultStatus string

const (
	StepResultSuccess        StepResultStatus = "Success"
	StepResultPartialSuccess StepResultStatus = "PartialSuccess"
	StepResultFailure        StepResultStatus = "Failure"
)

// StepResult is what a StepExecutor call returns for one step.
type StepResult struct {
	Status       StepResultStatus
	IsCritical   bool // only meaningful when Status == StepResultFailure
	Message      string
	ChangedFiles []string
}

// StepExecutor runs a single plan step against a snapshot of the
// accumulated context and returns its result plus any context updates to
// merge before the next step runs. An error is treated as an unplanned
// critical failure of the step.
type StepExecutor func(ctx context.Context, step Task, context map[string]string) (StepResult, map[string]string, error)

// StepOutcomeKind tags which variant of StepOutcome a value holds.
type StepOutcomeKind string

const (
	StepOutcomeSuccess        StepOutcomeKind = "Success"
	StepOutcomePartialSuccess StepOutcomeKind = "PartialSuccess"
	StepOutcomeFailure        StepOutcomeKind = "Failure"
	StepOutcomeSkipped        StepOutcomeKind = "Skipped"
)

// StepOutcome is the per-step result the executor records, one per plan
// step in order.
type StepOutcome struct {
	Kind         StepOutcomeKind
	StepID       string
	IsCritical   bool   // set when Kind == StepOutcomeFailure
	Reason       string // set when Kind == StepOutcomeSkipped
	Message      string
	ChangedFiles []string // carried through from the StepResult on success
}

// OutcomeKind tags which variant of the Outcome union a value holds.
type OutcomeKind string

const (
	OutcomeBlank            OutcomeKind = "Blank"
	OutcomeNoChangesSuccess OutcomeKind = "NoChanges.Success"
	OutcomeNoChangesFailure OutcomeKind = "NoChanges.Failure"
)

// Outcome is the aggregate result of executing a plan.
type Outcome struct {
	Kind         OutcomeKind
	ExecutorID   string
	TicketID     string
	TaskID       string
	StartedAt    time.Time
	EndedAt      time.Time
	Message      string
	ChangedFiles []string
}

// ExecutionResult is what Execute returns: the aggregate outcome, the
// per-step outcomes in plan order, and the final (now immutable) context.
type ExecutionResult struct {
	Outcome      Outcome
	StepOutcomes []StepOutcome
	Context      map[string]string
}

// Executor is the PlanExecutor.
type Executor struct {
	executorID string
	clock      ids.Clock
	maxSteps   int
}

// New returns an Executor that stamps its outcomes with executorID. Plan
// size is unbounded until SetMaxSteps is called.
func New(executorID string, clock ids.Clock) *Executor {
	return &Executor{executorID: executorID, clock: clock}
}

// SetMaxSteps bounds the number of steps Execute will run; a plan with
// more steps than this is rejected outright rather than partially run.
// n <= 0 means unbounded.
func (e *Executor) SetMaxSteps(n int) {
	e.maxSteps = n
}

// Execute runs plan's steps in order, calling run for each one, short
// circuiting the remainder the moment a step reports a critical failure.
func (e *Executor) Execute(ctx context.Context, ticketID string, plan Plan, run StepExecutor) ExecutionResult {
	startedAt := e.clock.Now()
	if plan.IsBlank() {
		return ExecutionResult{
			Outcome: Outcome{
				Kind:       OutcomeNoChangesSuccess,
				ExecutorID: e.executorID,
				TicketID:   ticketID,
				StartedAt:  startedAt,
				EndedAt:    startedAt,
				Message:    "Plan has no steps to execute.",
			},
			Context: map[string]string{},
		}
	}
	if e.maxSteps > 0 && len(plan.Steps) > e.maxSteps {
		return ExecutionResult{
			Outcome: Outcome{
				Kind:       OutcomeNoChangesFailure,
				ExecutorID: e.executorID,
				TicketID:   ticketID,
				StartedAt:  startedAt,
				EndedAt:    startedAt,
				Message:    fmt.Sprintf("plan has %d steps, exceeding the configured limit of %d", len(plan.Steps), e.maxSteps),
			},
			Context: map[string]string{},
		}
	}

	stepContext := make(map[string]string)
	outcomes := make([]StepOutcome, len(plan.Steps))
	var changedFiles []string
	criticalAt := -1

	for i, step := range plan.Steps {
		if criticalAt >= 0 {
			outcomes[i] = StepOutcome{
				Kind:   StepOutcomeSkipped,
				StepID: step.ID,
				Reason: fmt.Sprintf("Skipped due to critical failure in step %d", criticalAt+1),
			}
			continue
		}

		snapshot := make(map[string]string, len(stepContext))
		for k, v := range stepContext {
			snapshot[k] = v
		}

		result, updates, err := run(ctx, step, snapshot)
		if err != nil {
			outcomes[i] = StepOutcome{Kind: StepOutcomeFailure, StepID: step.ID, IsCritical: true, Message: err.Error()}
			criticalAt = i
			continue
		}

		for k, v := range updates {
			stepContext[k] = v
		}
		changedFiles = append(changedFiles, result.ChangedFiles...)

		switch result.Status {
		case StepResultSuccess:
			outcomes[i] = StepOutcome{Kind: StepOutcomeSuccess, StepID: step.ID, Message: result.Message, ChangedFiles: result.ChangedFiles}
		case StepResultPartialSuccess:
			outcomes[i] = StepOutcome{Kind: StepOutcomePartialSuccess, StepID: step.ID, Message: result.Message, ChangedFiles: result.ChangedFiles}
		case StepResultFailure:
			outcomes[i] = StepOutcome{Kind: StepOutcomeFailure, StepID: step.ID, IsCritical: result.IsCritical, Message: result.Message}
			if result.IsCritical {
				criticalAt = i
			}
		default:
			outcomes[i] = StepOutcome{Kind: StepOutcomeFailure, StepID: step.ID, IsCritical: true, Message: fmt.Sprintf("unrecognized step status %q", result.Status)}
			criticalAt = i
		}
	}

	kind := OutcomeNoChangesSuccess
	hasFailure := false
	for _, o := range outcomes {
		if o.Kind == StepOutcomeFailure {
			hasFailure = true
			break
		}
	}
	if hasFailure {
		kind = OutcomeNoChangesFailure
	}

	return ExecutionResult{
		Outcome: Outcome{
			Kind:         kind,
			ExecutorID:   e.executorID,
			TicketID:     ticketID,
			StartedAt:    startedAt,
			EndedAt:      e.clock.Now(),
			Message:      summarize(outcomes),
			ChangedFiles: changedFiles,
		},
		StepOutcomes: outcomes,
		Context:      stepContext,
	}
}

// summarize renders the ✓/⚠/✗/⊘ per-status counts the aggregate Outcome
// carries as its message.
func summarize(outcomes []StepOutcome) string {
	var success, partial, failure, skipped int
	for _, o := range outcomes {
		switch o.Kind {
		case StepOutcomeSuccess:
			success++
		case StepOutcomePartialSuccess:
			partial++
		case StepOutcomeFailure:
			failure++
		case StepOutcomeSkipped:
			skipped++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Success: %d\n", success)
	fmt.Fprintf(&b, "⚠ Partial: %d\n", partial)
	fmt.Fprintf(&b, "✗ Failure: %d\n", failure)
	fmt.Fprintf(&b, "⊘ Skipped: %d", skipped)
	return b.String()
}

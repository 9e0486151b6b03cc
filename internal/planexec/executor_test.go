package planexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amperehq/ampere/internal/ids"
)

func newTestExecutor() *Executor {
	return New("executor-1", ids.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
}

func TestEmptyPlanProducesNoChangesSuccess(t *testing.T) {
	e := newTestExecutor()
	result := e.Execute(context.Background(), "tk-1", BlankPlan(), func(ctx context.Context, step Task, c map[string]string) (StepResult, map[string]string, error) {
		t.Fatal("run should never be called for an empty plan")
		return StepResult{}, nil, nil
	})
	if result.Outcome.Kind != OutcomeNoChangesSuccess {
		t.Fatalf("expected NoChanges.Success, got %s", result.Outcome.Kind)
	}
	if result.Outcome.Message != "Plan has no steps to execute." {
		t.Fatalf("unexpected message: %q", result.Outcome.Message)
	}
	if len(result.StepOutcomes) != 0 {
		t.Fatalf("expected no step outcomes, got %d", len(result.StepOutcomes))
	}
}

func TestAllStepsSucceedProducesNoChangesSuccess(t *testing.T) {
	e := newTestExecutor()
	plan := ForTask(BlankTask(), []Task{
		CodeChange("s1", "do a", nil),
		CodeChange("s2", "do b", nil),
	}, 2)

	result := e.Execute(context.Background(), "tk-1", plan, func(ctx context.Context, step Task, c map[string]string) (StepResult, map[string]string, error) {
		return StepResult{Status: StepResultSuccess, ChangedFiles: []string{step.ID + ".go"}}, nil, nil
	})

	if result.Outcome.Kind != OutcomeNoChangesSuccess {
		t.Fatalf("expected NoChanges.Success, got %s", result.Outcome.Kind)
	}
	if len(result.StepOutcomes) != 2 {
		t.Fatalf("expected 2 step outcomes, got %d", len(result.StepOutcomes))
	}
	for _, o := range result.StepOutcomes {
		if o.Kind != StepOutcomeSuccess {
			t.Fatalf("expected Success, got %s", o.Kind)
		}
	}
	if len(result.Outcome.ChangedFiles) != 2 {
		t.Fatalf("expected 2 changed files, got %d", len(result.Outcome.ChangedFiles))
	}
}

func TestCriticalFailureSkipsRemainingSteps(t *testing.T) {
	e := newTestExecutor()
	plan := ForTask(BlankTask(), []Task{
		CodeChange("s1", "do a", nil),
		CodeChange("s2", "do b", nil),
		CodeChange("s3", "do c", nil),
	}, 3)

	result := e.Execute(context.Background(), "tk-1", plan, func(ctx context.Context, step Task, c map[string]string) (StepResult, map[string]string, error) {
		if step.ID == "s2" {
			return StepResult{Status: StepResultFailure, IsCritical: true, Message: "boom"}, nil, nil
		}
		return StepResult{Status: StepResultSuccess}, nil, nil
	})

	if result.Outcome.Kind != OutcomeNoChangesFailure {
		t.Fatalf("expected NoChanges.Failure, got %s", result.Outcome.Kind)
	}
	wantKinds := []StepOutcomeKind{StepOutcomeSuccess, StepOutcomeFailure, StepOutcomeSkipped}
	for i, want := range wantKinds {
		if result.StepOutcomes[i].Kind != want {
			t.Fatalf("step %d: expected %s, got %s", i, want, result.StepOutcomes[i].Kind)
		}
	}
	if result.StepOutcomes[2].Reason != "Skipped due to critical failure in step 2" {
		t.Fatalf("unexpected skip reason: %q", result.StepOutcomes[2].Reason)
	}
}

func TestStepExecutorErrorIsTreatedAsCriticalFailure(t *testing.T) {
	e := newTestExecutor()
	plan := ForTask(BlankTask(), []Task{CodeChange("s1", "do a", nil), CodeChange("s2", "do b", nil)}, 2)

	result := e.Execute(context.Background(), "tk-1", plan, func(ctx context.Context, step Task, c map[string]string) (StepResult, map[string]string, error) {
		if step.ID == "s1" {
			return StepResult{}, nil, errors.New("executor unavailable")
		}
		return StepResult{Status: StepResultSuccess}, nil, nil
	})

	if result.StepOutcomes[0].Kind != StepOutcomeFailure || !result.StepOutcomes[0].IsCritical {
		t.Fatalf("expected a critical failure for s1, got %+v", result.StepOutcomes[0])
	}
	if result.StepOutcomes[1].Kind != StepOutcomeSkipped {
		t.Fatalf("expected s2 skipped, got %s", result.StepOutcomes[1].Kind)
	}
}

func TestContextUpdatesCarryForwardBetweenSteps(t *testing.T) {
	e := newTestExecutor()
	plan := ForTask(BlankTask(), []Task{CodeChange("s1", "do a", nil), CodeChange("s2", "do b", nil)}, 2)

	var seenByS2 string
	result := e.Execute(context.Background(), "tk-1", plan, func(ctx context.Context, step Task, c map[string]string) (StepResult, map[string]string, error) {
		if step.ID == "s1" {
			return StepResult{Status: StepResultSuccess}, map[string]string{"key": "value-from-s1"}, nil
		}
		seenByS2 = c["key"]
		return StepResult{Status: StepResultSuccess}, nil, nil
	})

	if seenByS2 != "value-from-s1" {
		t.Fatalf("expected s2 to see s1's context update, got %q", seenByS2)
	}
	if result.Context["key"] != "value-from-s1" {
		t.Fatalf("expected final context to retain the update, got %+v", result.Context)
	}
}

func TestPartialSuccessDoesNotCountAsFailure(t *testing.T) {
	e := newTestExecutor()
	plan := ForTask(BlankTask(), []Task{CodeChange("s1", "do a", nil)}, 1)

	result := e.Execute(context.Background(), "tk-1", plan, func(ctx context.Context, step Task, c map[string]string) (StepResult, map[string]string, error) {
		return StepResult{Status: StepResultPartialSuccess, Message: "did most of it"}, nil, nil
	})

	if result.Outcome.Kind != OutcomeNoChangesSuccess {
		t.Fatalf("expected NoChanges.Success since a partial success is not a failure, got %s", result.Outcome.Kind)
	}
}

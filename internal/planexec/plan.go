// Package planexec implements PlanExecutor: sequential execution of a
// ticket's Plan, short-circuiting the remaining steps the moment a step
// reports a critical failure.
package planexec

// TaskKind tags which variant of the Task union a value holds.
type TaskKind string

const (
	TaskKindBlank      TaskKind = "Blank"
	TaskKindCodeChange TaskKind = "CodeChange"
)

// TaskStatus is the status of a CodeChange task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "Pending"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusDone       TaskStatus = "Done"
	TaskStatusFailed     TaskStatus = "Failed"
)

// Task is the discriminated union from the data model: Blank, or a
// CodeChange step within a plan.
type Task struct {
	ID          string
	Kind        TaskKind
	Status      TaskStatus
	Description string
	AssignedTo  *string
}

// BlankTask returns the Blank task sentinel.
func BlankTask() Task {
	return Task{Kind: TaskKindBlank, Status: TaskStatusPending}
}

// CodeChange returns a CodeChange task in Pending status.
func CodeChange(id, description string, assignedTo *string) Task {
	return Task{ID: id, Kind: TaskKindCodeChange, Status: TaskStatusPending, Description: description, AssignedTo: assignedTo}
}

// PlanKind tags which variant of the Plan union a value holds.
type PlanKind string

const (
	PlanKindBlank   PlanKind = "Blank"
	PlanKindForTask PlanKind = "ForTask"
)

// Plan is ForTask{task, steps, estimatedComplexity} or the blank sentinel.
type Plan struct {
	Kind                PlanKind
	Task                Task
	Steps               []Task
	EstimatedComplexity int
}

// BlankPlan returns the blank Plan sentinel.
func BlankPlan() Plan {
	return Plan{Kind: PlanKindBlank}
}

// ForTask builds a Plan.ForTask over steps for task.
func ForTask(task Task, steps []Task, estimatedComplexity int) Plan {
	return Plan{Kind: PlanKindForTask, Task: task, Steps: steps, EstimatedComplexity: estimatedComplexity}
}

// IsBlank reports whether p carries no steps to execute.
func (p Plan) IsBlank() bool {
	return p.Kind == PlanKindBlank || len(p.Steps) == 0
}

package spark

import "fmt"

// RoleSpark holds the built-in role-level sparks. Each narrows tool
// access to what that role needs and contributes the role's framing to
// the system prompt.
var RoleSpark = struct {
	Code       Spark
	Research   Spark
	Operations Spark
	Planning   Spark
}{
	Code: Spark{
		Name:               "role:code",
		PromptContribution: "You operate in the Code role: implement, test, and review changes to a codebase.",
		AllowedTools:       []string{"read_file", "write_file", "exec", "search"},
	},
	Research: Spark{
		Name:               "role:research",
		PromptContribution: "You operate in the Research role: gather and synthesize information before anyone commits to an approach.",
		AllowedTools:       []string{"read_file", "web_search", "read_url", "search"},
	},
	Operations: Spark{
		Name:               "role:operations",
		PromptContribution: "You operate in the Operations role: monitor, triage, and remediate running systems.",
		AllowedTools:       []string{"read_file", "exec", "send_alert"},
	},
	Planning: Spark{
		Name:               "role:planning",
		PromptContribution: "You operate in the Planning role: decompose tickets into executable plans and sequence steps.",
		AllowedTools:       []string{"read_file", "search"},
	},
}

// TaskSpark builds the spark that narrows context to a single task.
func TaskSpark(taskID, description string) Spark {
	return Spark{
		Name:               "task:" + taskID,
		PromptContribution: fmt.Sprintf("Your current task (%s): %s", taskID, description),
	}
}

// CoordinationSpark holds sparks describing inter-agent coordination.
var CoordinationSpark = struct {
	Handoff func(fromAgent, toAgent, note string) Spark
}{
	Handoff: func(fromAgent, toAgent, note string) Spark {
		return Spark{
			Name: "coordination:handoff",
			PromptContribution: fmt.Sprintf(
				"This work was handed off to you (%s) by %s. Handoff note: %s", toAgent, fromAgent, note),
		}
	},
}

// ObservabilitySpark holds sparks that adjust an agent's own reporting
// verbosity; they narrow nothing but do contribute prompt text.
var ObservabilitySpark = struct {
	Verbose Spark
}{
	Verbose: Spark{
		Name:               "observability:verbose",
		PromptContribution: "Narrate your reasoning and intermediate findings in more detail than usual.",
	},
}

// Phase names for PhaseSpark, matching the PROPEL loop's stages.
const (
	PhasePerceive = "Perceive"
	PhasePlan     = "Plan"
	PhaseExecute  = "Execute"
	PhaseLearn    = "Learn"
)

var phasePrompts = map[string]string{
	PhasePerceive: "You are in the Perceive phase: gather the current state of the ticket, thread, and any assigned task before acting.",
	PhasePlan:     "You are in the Plan phase: produce or revise a plan of concrete steps toward the task's outcome.",
	PhaseExecute:  "You are in the Execute phase: carry out the next plan step and record its outcome.",
	PhaseLearn:    "You are in the Learn phase: record what was learned from this task as a knowledge entry.",
}

// PhaseSpark returns the spark pushed for the duration of one PROPEL
// loop phase. It narrows nothing on its own; it exists to tag the
// system prompt and tracing spans with the active phase.
func PhaseSpark(phase string) Spark {
	return Spark{
		Name:               "phase:" + phase,
		PromptContribution: phasePrompts[phase],
	}
}

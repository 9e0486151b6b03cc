package spark

import "testing"

func TestStackPushPopIsImmutable(t *testing.T) {
	base := NewStack("agent-1")
	withRole := base.Push(RoleSpark.Code)
	if base.Depth() != 0 {
		t.Fatalf("pushing must not mutate the receiver, got depth %d", base.Depth())
	}
	if withRole.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", withRole.Depth())
	}

	popped, top, ok := withRole.Pop()
	if !ok || top.Name != RoleSpark.Code.Name {
		t.Fatalf("expected to pop role:code, got %+v ok=%v", top, ok)
	}
	if popped.Depth() != 0 {
		t.Fatalf("expected popped stack depth 0, got %d", popped.Depth())
	}
	if withRole.Depth() != 1 {
		t.Fatalf("popping must not mutate the receiver, got depth %d", withRole.Depth())
	}
}

func TestEffectiveAllowedToolsOnlyNarrows(t *testing.T) {
	stack := NewStack("agent-1")

	if tools := stack.EffectiveAllowedTools(); tools != nil {
		t.Fatalf("expected unconstrained nil on empty stack, got %v", tools)
	}

	stack = stack.Push(RoleSpark.Code)
	afterRole := stack.EffectiveAllowedTools()
	if len(afterRole) != len(RoleSpark.Code.AllowedTools) {
		t.Fatalf("expected role:code's own tool set, got %v", afterRole)
	}

	narrowed := Spark{Name: "task:narrow", AllowedTools: []string{"read_file"}}
	stack = stack.Push(narrowed)
	afterTask := stack.EffectiveAllowedTools()
	if len(afterTask) != 1 || afterTask[0] != "read_file" {
		t.Fatalf("expected narrowing to [read_file], got %v", afterTask)
	}
	if len(afterTask) > len(afterRole) {
		t.Fatal("pushing a spark must never widen the effective tool set")
	}
}

func TestAllowReadForbiddenWins(t *testing.T) {
	stack := NewStack("agent-1").
		Push(Spark{Name: "base", FileAccessScope: FileAccessScope{Reads: []string{"/repo/**"}}}).
		Push(Spark{Name: "lockdown", FileAccessScope: FileAccessScope{Forbidden: []string{"/repo/secrets/**"}}})

	if !stack.AllowRead("/repo/src/main.go") {
		t.Fatal("expected /repo/src/main.go to be readable")
	}
	if stack.AllowRead("/repo/secrets/keys.pem") {
		t.Fatal("expected /repo/secrets/keys.pem to be forbidden")
	}
}

func TestAllowReadNoAccessDominates(t *testing.T) {
	stack := NewStack("agent-1").
		Push(Spark{Name: "base", FileAccessScope: FileAccessScope{Reads: []string{"/repo/**"}}}).
		Push(Spark{Name: "locked", FileAccessScope: FileAccessScope{NoAccess: true}})

	if stack.AllowRead("/repo/src/main.go") {
		t.Fatal("expected NoAccess to dominate and deny everything")
	}
}

func TestBuildSystemPromptConcatenatesBottomToTop(t *testing.T) {
	stack := NewStack("agent-1").Push(RoleSpark.Code).Push(TaskSpark("t1", "fix the bug"))
	prompt := stack.BuildSystemPrompt()
	if prompt == "" {
		t.Fatal("expected non-empty prompt")
	}
}

func TestFindSparkReturnsTopmostMatch(t *testing.T) {
	stack := NewStack("agent-1").Push(PhaseSpark(PhasePerceive)).Push(PhaseSpark(PhaseExecute))
	found, ok := stack.FindSpark("phase:" + PhasePerceive)
	if !ok || found.Name != "phase:"+PhasePerceive {
		t.Fatalf("expected to find phase:Perceive, got %+v ok=%v", found, ok)
	}
	if !stack.Contains("phase:" + PhaseExecute) {
		t.Fatal("expected stack to contain phase:Execute")
	}
}

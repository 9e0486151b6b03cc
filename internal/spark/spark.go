// Package spark implements the spark stack: the composable, narrowing
// context layers an agent accumulates as it moves through coordination,
// task assignment, and the PROPEL phases. Each pushed spark can only
// restrict a downstream agent's effective tools and file access relative
// to the sparks already beneath it in the stack — it can never widen them.
package spark

import (
	"path/filepath"
	"strings"
)

// FileAccessScope restricts which paths a spark's holder may read or
// write. A pattern list is matched with path/filepath glob syntax;
// an empty list for Reads or Writes means that spark imposes no
// constraint of its own on that operation. NoAccess, if set, denies
// everything regardless of the other fields and dominates when combined
// with any other scope.
type FileAccessScope struct {
	Reads     []string
	Writes    []string
	Forbidden []string
	NoAccess  bool
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		// A pattern ending in /** denotes a directory subtree; filepath.Match
		// can't express recursive wildcards, so treat it as a prefix match.
		if strings.HasSuffix(p, "/**") {
			prefix := strings.TrimSuffix(p, "/**")
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
		}
	}
	return false
}

func (s FileAccessScope) allowRead(path string) bool {
	if s.NoAccess {
		return false
	}
	if matchesAny(s.Forbidden, path) {
		return false
	}
	if len(s.Reads) == 0 {
		return true
	}
	return matchesAny(s.Reads, path)
}

func (s FileAccessScope) allowWrite(path string) bool {
	if s.NoAccess {
		return false
	}
	if matchesAny(s.Forbidden, path) {
		return false
	}
	if len(s.Writes) == 0 {
		return true
	}
	return matchesAny(s.Writes, path)
}

// AllowRead reports whether path is readable under this scope alone.
func (s FileAccessScope) AllowRead(path string) bool { return s.allowRead(path) }

// AllowWrite reports whether path is writable under this scope alone.
func (s FileAccessScope) AllowWrite(path string) bool { return s.allowWrite(path) }

// Spark is one immutable layer of agent context: a prompt contribution,
// an optional tool allowlist (nil means unconstrained by this spark), and
// a file access scope.
type Spark struct {
	Name               string
	PromptContribution string
	AllowedTools       []string // nil = unconstrained
	FileAccessScope    FileAccessScope
}

// SparkStack is an immutable stack of sparks accumulated for one agent
// affinity. Every mutator returns a new stack; the receiver is untouched.
type SparkStack struct {
	Affinity string
	sparks   []Spark
}

// NewStack creates an empty stack for the given agent affinity (role or
// agent id the stack was built for).
func NewStack(affinity string) SparkStack {
	return SparkStack{Affinity: affinity}
}

// Push returns a new stack with s on top.
func (st SparkStack) Push(s Spark) SparkStack {
	next := make([]Spark, len(st.sparks)+1)
	copy(next, st.sparks)
	next[len(next)-1] = s
	return SparkStack{Affinity: st.Affinity, sparks: next}
}

// Pop returns a new stack with the top spark removed, and the popped
// spark. Popping an empty stack returns the stack unchanged and ok=false.
func (st SparkStack) Pop() (SparkStack, Spark, bool) {
	if len(st.sparks) == 0 {
		return st, Spark{}, false
	}
	top := st.sparks[len(st.sparks)-1]
	next := make([]Spark, len(st.sparks)-1)
	copy(next, st.sparks[:len(st.sparks)-1])
	return SparkStack{Affinity: st.Affinity, sparks: next}, top, true
}

// Peek returns the top spark without removing it.
func (st SparkStack) Peek() (Spark, bool) {
	if len(st.sparks) == 0 {
		return Spark{}, false
	}
	return st.sparks[len(st.sparks)-1], true
}

// Depth returns the number of sparks currently on the stack.
func (st SparkStack) Depth() int { return len(st.sparks) }

// Contains reports whether a spark with the given name is anywhere on
// the stack.
func (st SparkStack) Contains(name string) bool {
	_, ok := st.FindSpark(name)
	return ok
}

// FindSpark returns the topmost spark with the given name.
func (st SparkStack) FindSpark(name string) (Spark, bool) {
	for i := len(st.sparks) - 1; i >= 0; i-- {
		if st.sparks[i].Name == name {
			return st.sparks[i], true
		}
	}
	return Spark{}, false
}

// BuildSystemPrompt concatenates every spark's prompt contribution,
// bottom of the stack (broadest context) to top (most specific), each on
// its own paragraph.
func (st SparkStack) BuildSystemPrompt() string {
	var b strings.Builder
	for _, s := range st.sparks {
		if s.PromptContribution == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.PromptContribution)
	}
	return b.String()
}

// EffectiveAllowedTools intersects every spark's AllowedTools. A spark
// with a nil AllowedTools imposes no constraint of its own. If no spark
// on the stack constrains tools, the result is nil (unconstrained); once
// any spark constrains, the effective set can only shrink as more
// constrained sparks are pushed.
func (st SparkStack) EffectiveAllowedTools() []string {
	var effective []string
	constrained := false
	for _, s := range st.sparks {
		if s.AllowedTools == nil {
			continue
		}
		if !constrained {
			effective = append([]string(nil), s.AllowedTools...)
			constrained = true
			continue
		}
		effective = intersectStrings(effective, s.AllowedTools)
	}
	if !constrained {
		return nil
	}
	return effective
}

func intersectStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// AllowRead applies the stack's effective read scope.
func (st SparkStack) AllowRead(path string) bool {
	return evaluateNarrowed(st, path, func(s FileAccessScope) (bool, bool) {
		return len(s.Reads) > 0, matchesAny(s.Reads, path)
	})
}

// AllowWrite applies the stack's effective write scope.
func (st SparkStack) AllowWrite(path string) bool {
	return evaluateNarrowed(st, path, func(s FileAccessScope) (bool, bool) {
		return len(s.Writes) > 0, matchesAny(s.Writes, path)
	})
}

// evaluateNarrowed implements the AND-across-constraining-sparks,
// OR-within-a-spark's-pattern-list semantics shared by AllowRead and
// AllowWrite: a path is allowed only if it is not forbidden anywhere on
// the stack and it satisfies every spark that declares a constraint.
func evaluateNarrowed(st SparkStack, path string, check func(FileAccessScope) (declared, matched bool)) bool {
	for _, s := range st.sparks {
		if s.FileAccessScope.NoAccess {
			return false
		}
		if matchesAny(s.FileAccessScope.Forbidden, path) {
			return false
		}
	}
	for _, s := range st.sparks {
		declared, matched := check(s.FileAccessScope)
		if declared && !matched {
			return false
		}
	}
	return true
}

// Describe renders a human-readable summary of the stack, bottom to top,
// for logging and debugging.
func (st SparkStack) Describe() string {
	var b strings.Builder
	b.WriteString("spark stack[")
	b.WriteString(st.Affinity)
	b.WriteString("]: ")
	for i, s := range st.sparks {
		if i > 0 {
			b.WriteString(" > ")
		}
		b.WriteString(s.Name)
	}
	if len(st.sparks) == 0 {
		b.WriteString("(empty)")
	}
	return b.String()
}

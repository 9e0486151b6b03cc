// Package escalation classifies why a piece of work needs to leave the
// autonomous agent loop: a quick keyword sweep covers the common cases,
// and an optional LLM fallback handles ambiguous text the keyword list
// misses.
package escalation

import (
	"strings"

	"github.com/amperehq/ampere/internal/ticket"
)

// Kind is the top-level escalation taxonomy.
type Kind string

const (
	KindDiscussionCodeReview    Kind = "Discussion.CodeReview"
	KindDiscussionDesign        Kind = "Discussion.Design"
	KindDiscussionArchitecture  Kind = "Discussion.Architecture"
	KindDiscussionRequirements  Kind = "Discussion.Requirements"
	KindDecisionTechnical       Kind = "Decision.Technical"
	KindDecisionProduct         Kind = "Decision.Product"
	KindDecisionAuthorization   Kind = "Decision.Authorization"
	KindBudgetResourceAlloc     Kind = "Budget.ResourceAllocation"
	KindBudgetCostApproval      Kind = "Budget.CostApproval"
	KindBudgetTimeline          Kind = "Budget.Timeline"
	KindPrioritiesConflict      Kind = "Priorities.Conflict"
	KindPrioritiesReprioritize  Kind = "Priorities.Reprioritization"
	KindPrioritiesDependency    Kind = "Priorities.Dependency"
	KindScopeExpansion          Kind = "Scope.Expansion"
	KindScopeReduction          Kind = "Scope.Reduction"
	KindScopeClarification      Kind = "Scope.Clarification"
	KindExternalVendor          Kind = "External.Vendor"
	KindExternalCustomer        Kind = "External.Customer"
)

// Process is the mechanism by which an escalation of a given Kind is
// resolved.
type Process string

const (
	ProcessAgentMeeting       Process = "AgentMeeting"
	ProcessHumanMeeting       Process = "HumanMeeting"
	ProcessHumanApproval      Process = "HumanApproval"
	ProcessExternalDependency Process = "ExternalDependency"
)

var processFor = map[Kind]Process{
	KindDiscussionCodeReview:   ProcessAgentMeeting,
	KindDiscussionDesign:       ProcessAgentMeeting,
	KindDiscussionArchitecture: ProcessHumanMeeting,
	KindDiscussionRequirements: ProcessHumanMeeting,
	KindDecisionTechnical:      ProcessAgentMeeting,
	KindDecisionProduct:        ProcessHumanApproval,
	KindDecisionAuthorization:  ProcessHumanApproval,
	KindBudgetResourceAlloc:    ProcessHumanApproval,
	KindBudgetCostApproval:     ProcessHumanApproval,
	KindBudgetTimeline:         ProcessHumanMeeting,
	KindPrioritiesConflict:     ProcessAgentMeeting,
	KindPrioritiesReprioritize: ProcessHumanMeeting,
	KindPrioritiesDependency:   ProcessAgentMeeting,
	KindScopeExpansion:         ProcessHumanApproval,
	KindScopeReduction:         ProcessHumanApproval,
	KindScopeClarification:     ProcessHumanMeeting,
	KindExternalVendor:         ProcessExternalDependency,
	KindExternalCustomer:       ProcessExternalDependency,
}

// ProcessFor returns the resolution process for an escalation kind.
func ProcessFor(k Kind) Process { return processFor[k] }

// keywordKinds maps the fixed glossary vocabulary to the kinds it can
// signal. A phrase may appear under more than one kind; the first match
// scanning keywordOrder wins.
var keywordOrder = []struct {
	keyword string
	kind    Kind
}{
	{"architecture", KindDiscussionArchitecture},
	{"design", KindDiscussionDesign},
	{"review", KindDiscussionCodeReview},
	{"requirements", KindDiscussionRequirements},
	{"clarification", KindScopeClarification},
	{"decision", KindDecisionTechnical},
	{"approval", KindDecisionAuthorization},
	{"authorize", KindDecisionAuthorization},
	{"sign-off", KindDecisionAuthorization},
	{"permission", KindDecisionAuthorization},
	{"budget", KindBudgetCostApproval},
	{"resource", KindBudgetResourceAlloc},
	{"timeline", KindBudgetTimeline},
	{"priority", KindPrioritiesReprioritize},
	{"scope", KindScopeExpansion},
	{"manager", KindDecisionProduct},
	{"stakeholder", KindDecisionProduct},
	{"customer", KindExternalCustomer},
	{"user", KindExternalCustomer},
	{"external", KindExternalVendor},
	{"meeting", KindDiscussionCodeReview},
	{"human", KindDecisionAuthorization},
	{"discuss", KindDiscussionCodeReview},
}

// requiresMeetingKeywords and requiresHumanKeywords are the two boolean
// flags the keyword vocabulary carries alongside kind classification; a
// phrase can raise either, both, or neither independent of which Kind it
// maps to.
var requiresMeetingKeywords = []string{
	"decision", "discuss", "meeting", "review", "clarification",
	"architecture", "design", "scope", "priority",
}

var requiresHumanKeywords = []string{
	"resource", "budget", "timeline", "human", "approval", "permission",
	"authorize", "sign-off", "manager", "stakeholder", "customer", "user",
	"external",
}

// Decision is the outcome of classifying a piece of text for escalation.
type Decision struct {
	Kind            Kind
	Process         Process
	Urgency         ticket.Urgency
	RequiresMeeting bool
	RequiresHuman   bool
	Reasons         []string
	Matched         bool
}

// LLMClassifier is the interface escalation asks an LLM to decide with,
// when the keyword sweep finds no match. Conforms to the same
// request/response shape as a conversational model's single-turn call.
type LLMClassifier interface {
	Classify(prompt string) (kindText string, err error)
}

// Classifier applies the keyword sweep first, then falls back to an
// LLMClassifier (if configured) for text the keywords don't cover.
type Classifier struct {
	llm LLMClassifier
}

// New returns a Classifier. llm may be nil, in which case unmatched text
// is reported as Decision{Matched: false}.
func New(llm LLMClassifier) *Classifier {
	return &Classifier{llm: llm}
}

// Classify scans text (a ticket description, message, or plan step
// note) for escalation signals. priority and overdue feed the urgency
// elevation rule: CRITICAL priority or a past-due deadline always
// elevates the decision's urgency to CRITICAL regardless of what the
// keyword sweep alone would produce.
func (c *Classifier) Classify(text string, priority ticket.Priority, overdue bool) Decision {
	lower := strings.ToLower(text)

	var reasons []string
	requiresMeeting := false
	requiresHuman := false
	var matchedKind Kind
	matched := false

	for _, kw := range requiresMeetingKeywords {
		if strings.Contains(lower, kw) {
			requiresMeeting = true
			reasons = append(reasons, "keyword:"+kw)
		}
	}
	for _, kw := range requiresHumanKeywords {
		if strings.Contains(lower, kw) {
			requiresHuman = true
			reasons = append(reasons, "keyword:"+kw)
		}
	}
	for _, entry := range keywordOrder {
		if strings.Contains(lower, entry.keyword) {
			matchedKind = entry.kind
			matched = true
			break
		}
	}

	if !matched && c.llm != nil {
		if kindText, err := c.llm.Classify(text); err == nil {
			if k, ok := parseKind(kindText); ok {
				matchedKind = k
				matched = true
				requiresMeeting = requiresMeeting || strings.HasPrefix(string(k), "Discussion")
				requiresHuman = requiresHuman || ProcessFor(k) == ProcessHumanApproval || ProcessFor(k) == ProcessHumanMeeting
				reasons = append(reasons, "llm-fallback")
			}
		}
	}

	urgency := ticket.UrgencyLow
	if matched {
		urgency = ticket.UrgencyMedium
	}
	if priority == ticket.PriorityCritical || overdue {
		urgency = ticket.UrgencyCritical
		reasons = append(reasons, "urgency-elevated")
	}

	return Decision{
		Kind:            matchedKind,
		Process:         ProcessFor(matchedKind),
		Urgency:         urgency,
		RequiresMeeting: requiresMeeting,
		RequiresHuman:   requiresHuman,
		Reasons:         reasons,
		Matched:         matched || requiresMeeting || requiresHuman,
	}
}

var allKinds = []Kind{
	KindDiscussionCodeReview, KindDiscussionDesign, KindDiscussionArchitecture, KindDiscussionRequirements,
	KindDecisionTechnical, KindDecisionProduct, KindDecisionAuthorization,
	KindBudgetResourceAlloc, KindBudgetCostApproval, KindBudgetTimeline,
	KindPrioritiesConflict, KindPrioritiesReprioritize, KindPrioritiesDependency,
	KindScopeExpansion, KindScopeReduction, KindScopeClarification,
	KindExternalVendor, KindExternalCustomer,
}

// parseKind recovers a Kind from LLM-fallback output by a case-insensitive
// substring search, since a model's reply is prose ("this looks like a
// PrioritiesConflict situation") rather than the bare enum string.
func parseKind(text string) (Kind, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, k := range allKinds {
		if strings.Contains(lower, strings.ToLower(string(k))) {
			return k, true
		}
	}
	return "", false
}

// ClassificationSchema is the JSON Schema an LLMClassifier implementation
// should require its model output to satisfy before handing the
// "kindText" result back to Classify.
const ClassificationSchema = `{"type":"object","additionalProperties":false,"required":["kind"],"properties":{"kind":{"type":"string"}}}`

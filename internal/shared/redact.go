package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretRule is a pattern that flags a credential embedded in free-form
// text, paired with the submatch index of a label prefix (e.g. "token:")
// that should survive redaction so the surrounding sentence still reads.
type secretRule struct {
	pattern    *regexp.Regexp
	preserveAt int
}

// secretRules covers the ways a credential ends up inside text AMPERE
// persists verbatim: a ticket description or escalation reason an agent
// pasted a credential into while explaining a blocker, a Bearer value
// carried in an OTLP exporter header set through a config env override,
// or a labeled token/secret UUID surfacing in an audit subject string.
var secretRules = []secretRule{
	{
		pattern:    regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|password|credential)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
		preserveAt: 1,
	},
	{
		pattern:    regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
		preserveAt: 1,
	},
	{
		pattern:    regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`),
		preserveAt: 1,
	},
}

// Redact scrubs every secretRules match out of input, leaving any label
// prefix intact. Applied to log attributes and to any reason/content
// string before it is persisted or logged, so a ticket description or
// escalation reason that happens to carry a credential never lands in
// event_log or system.jsonl verbatim.
func Redact(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, rule := range secretRules {
		out = rule.pattern.ReplaceAllStringFunc(out, func(match string) string {
			if groups := rule.pattern.FindStringSubmatch(match); len(groups) > rule.preserveAt {
				return groups[rule.preserveAt] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return out
}

// sensitiveKeyMarkers are substrings that mark any key (an env var name,
// a log attribute key) as naming a secret, regardless of its value.
var sensitiveKeyMarkers = []string{"api_key", "apikey", "secret", "token", "password", "credential", "authorization", "bearer"}

// IsSensitiveKey reports whether key looks like it names a secret, by a
// case-insensitive substring match against sensitiveKeyMarkers. Shared by
// RedactEnvValue and telemetry's attribute-key redaction so the
// vocabulary of "this key smells like a credential" lives in one place.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// credentialValueMarkers catch a value that carries a whole credential-
// bearing header or assignment verbatim (e.g. "Authorization: Bearer
// ..."), where secretRules' labeled-prefix preservation would still
// leave the header name sitting next to the placeholder. Those values
// are redacted wholesale rather than pattern-matched piece by piece.
var credentialValueMarkers = []string{"bearer ", "api_key", "authorization:"}

// LooksLikeCredentialValue reports whether v as a whole looks like a
// credential-bearing value rather than prose that merely mentions one.
func LooksLikeCredentialValue(v string) bool {
	lower := strings.ToLower(v)
	for _, marker := range credentialValueMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RedactEnvValue returns redactedPlaceholder when key looks like it names
// a secret, otherwise returns value unchanged. Used when logging the
// environment overrides CoreConfig applied at load, so a secret env
// var's name can be logged for debugging without ever logging its value.
func RedactEnvValue(key, value string) string {
	if IsSensitiveKey(key) {
		return redactedPlaceholder
	}
	return value
}

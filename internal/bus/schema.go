package bus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaRegistry holds one compiled schema per event type. Payloads are
// self-describing and forward-compatible: every registered schema allows
// additionalProperties, so a producer on a newer version of this core can
// add fields a consumer on an older version simply ignores. Only required
// fields are enforced.
var (
	registryMu sync.RWMutex
	registry   = map[string]*jsonschema.Schema{}
)

// RegisterSchema compiles schemaJSON and binds it to eventType. Intended to
// be called from package init in the packages that own each event type
// (ticket, thread, orchestrator); registering the same type twice replaces
// the prior schema.
func RegisterSchema(eventType string, schemaJSON string) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("unmarshal schema for %s: %w", eventType, err)
	}
	c := jsonschema.NewCompiler()
	resourceName := "ampere-event-" + eventType + ".json"
	if err := c.AddResource(resourceName, doc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", eventType, err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", eventType, err)
	}

	registryMu.Lock()
	registry[eventType] = schema
	registryMu.Unlock()
	return nil
}

// ValidatePayload checks raw against the schema registered for eventType.
// Event types with no registered schema pass unvalidated — not every event
// variant needs one, and tests frequently publish ad hoc payloads.
func ValidatePayload(eventType string, raw []byte) error {
	registryMu.RLock()
	schema, ok := registry[eventType]
	registryMu.RUnlock()
	if !ok {
		return nil
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("payload for %s is not valid JSON: %w", eventType, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("payload for %s failed schema validation: %w", eventType, err)
	}
	return nil
}

// requiredObjectSchema builds a minimal JSON Schema requiring the given
// top-level fields, permissive about everything else. Event-owning packages
// use this helper to register their schemas tersely.
func requiredObjectSchema(required ...string) string {
	var b strings.Builder
	b.WriteString(`{"type":"object","additionalProperties":true,"required":[`)
	for i, r := range required {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("%q", r))
	}
	b.WriteString(`]}`)
	return b.String()
}

// RequiredObjectSchema exports requiredObjectSchema for sibling packages
// registering event schemas at init time.
func RequiredObjectSchema(required ...string) string {
	return requiredObjectSchema(required...)
}

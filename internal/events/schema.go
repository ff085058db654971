// internal/events/schema.go
package events

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Every inbound frame must be an envelope object with a non-empty event name.
// Payload is intentionally unconstrained here; each handler validates its own
// payload shape.
const envelopeSchema = `{
	"type": "object",
	"required": ["event"],
	"properties": {
		"event": {
			"type": "string",
			"minLength": 1
		}
	}
}`

var envelopeLoader = gojsonschema.NewStringLoader(envelopeSchema)

// ValidateEnvelope checks a raw frame against the envelope schema.
func ValidateEnvelope(raw []byte) error {
	result, err := gojsonschema.Validate(envelopeLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("envelope validation: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid envelope: %s", errs[0].String())
		}
		return fmt.Errorf("invalid envelope")
	}
	return nil
}

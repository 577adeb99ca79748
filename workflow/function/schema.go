package function

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validatePayload compiles rawSchema (a JSON Schema document) and checks
// payload against it. A nil rawSchema always passes.
func validatePayload(rawSchema []byte, payload map[string]any) error {
	if len(rawSchema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(rawSchema, &schemaDoc); err != nil {
		return fmt.Errorf("invalid schema document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// jsonschema validates against decoded JSON values; round-trip the
	// payload through encoding/json so numeric types match what the
	// schema expects (float64, not Go's native int).
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	return schema.Validate(decoded)
}

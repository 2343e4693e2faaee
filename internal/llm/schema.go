package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"deepresearch/internal/apperrors"
)

// ParseStructured validates raw JSON against a compiled schema document and
// unmarshals it into out. Malformed responses (parse failure or schema
// violation) are classified so the caller can issue the documented one-shot
// auto-repair retry.
func ParseStructured(raw []byte, schemaDoc map[string]interface{}, out any) error {
	if schemaDoc != nil {
		if err := validateAgainstSchema(raw, schemaDoc); err != nil {
			return apperrors.New(apperrors.MalformedResponse, "", err)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.New(apperrors.MalformedResponse, "", fmt.Errorf("unmarshal structured response: %w", err))
	}
	return nil
}

func validateAgainstSchema(raw []byte, schemaDoc map[string]interface{}) error {
	compiler := jsonschema.NewCompiler()
	encoded, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	res, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	const resourceURL = "mem://structured-schema.json"
	if err := compiler.AddResource(resourceURL, res); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode instance: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// ExtractJSON pulls the first balanced top-level JSON array or object out
// of free-form model text, tolerating a surrounding prose preamble. Used as
// a defensive fallback when a model ignores the requested JSON-only
// instruction.
func ExtractJSON(content string) []byte {
	start := -1
	var open, close byte
	for i, r := range content {
		if r == '[' || r == '{' {
			start = i
			open = byte(r)
			if r == '[' {
				close = ']'
			} else {
				close = '}'
			}
			break
		}
	}
	if start < 0 {
		return nil
	}

	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return []byte(content[start : i+1])
			}
		}
	}
	return nil
}

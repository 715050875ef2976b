package governance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// conditionsSchemaJSON constrains rule condition payloads: only the four
// supported condition kinds, at least one present, no unknown keys.
const conditionsSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"domain_equals":    {"type": "string", "minLength": 1},
		"signals_any":      {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
		"keywords_any":     {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
		"confidence_below": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
	},
	"additionalProperties": false,
	"minProperties": 1
}`

var conditionsSchema = jsonschema.MustCompileString("conditions.schema.json", conditionsSchemaJSON)

// validateRuleParams checks required fields and validates the conditions
// payload against the schema, returning the parsed Conditions. These are
// configuration errors: rejected synchronously before any store access.
func validateRuleParams(p RuleParams) (*Conditions, error) {
	if p.Name == "" {
		return nil, errors.New("rule name is required")
	}
	switch p.Mode {
	case "INFORM", "DRAFT", "ESCALATE":
	default:
		return nil, fmt.Errorf("invalid hitl mode %q", p.Mode)
	}
	if len(p.Conditions) == 0 {
		return nil, errors.New("rule conditions are required")
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(p.Conditions))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("conditions are not valid JSON: %w", err)
	}
	if err := conditionsSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("conditions failed validation: %w", err)
	}

	var cond Conditions
	if err := json.Unmarshal(p.Conditions, &cond); err != nil {
		return nil, fmt.Errorf("conditions unmarshal: %w", err)
	}
	return &cond, nil
}

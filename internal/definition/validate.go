package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/scanop/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const definitionSchemaURL = "https://scanop.dev/schemas/definition.json"

// definitionSchemaJSON is the JSON Schema for scan definition documents.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://scanop.dev/schemas/definition.json",
  "type": "object",
  "required": ["params", "step"],
  "properties": {
    "name": { "type": "string" },
    "dialect": { "type": "string", "enum": ["expr", "cel"] },
    "sequences": {
      "oneOf": [
        { "$ref": "#/$defs/sequence" },
        { "type": "array", "items": { "$ref": "#/$defs/sequence" } }
      ]
    },
    "outputs_info": {
      "oneOf": [
        { "type": "null" },
        { "$ref": "#/$defs/output" },
        { "type": "array", "items": { "oneOf": [{ "type": "null" }, { "$ref": "#/$defs/output" }] } }
      ]
    },
    "non_sequences": {
      "oneOf": [
        { "$ref": "#/$defs/value" },
        { "type": "array", "items": { "$ref": "#/$defs/value" } }
      ]
    },
    "shared": {
      "oneOf": [
        { "$ref": "#/$defs/value" },
        { "type": "array", "items": { "$ref": "#/$defs/value" } }
      ]
    },
    "params": {
      "type": "array",
      "items": { "$ref": "#/$defs/identifier" }
    },
    "step": {
      "type": "object",
      "required": ["outputs"],
      "properties": {
        "outputs": { "type": "array", "items": { "type": "string", "minLength": 1 } },
        "updates": {
          "type": "object",
          "additionalProperties": { "type": "string", "minLength": 1 }
        }
      },
      "additionalProperties": false
    },
    "n_steps": { "type": "integer" },
    "go_backwards": { "type": "boolean" },
    "truncate_gradient": { "type": "integer", "minimum": -1 },
    "mode": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "identifier": { "type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$" },
    "array": {
      "oneOf": [
        { "type": "number" },
        { "type": "array", "items": { "$ref": "#/$defs/array" } }
      ]
    },
    "value": {
      "type": "object",
      "required": ["name", "value"],
      "properties": {
        "name": { "$ref": "#/$defs/identifier" },
        "value": { "$ref": "#/$defs/array" }
      },
      "additionalProperties": false
    },
    "sequence": {
      "type": "object",
      "required": ["name", "value"],
      "properties": {
        "name": { "$ref": "#/$defs/identifier" },
        "value": { "type": "array", "items": { "$ref": "#/$defs/array" } },
        "taps": { "type": "array", "items": { "type": "integer" } }
      },
      "additionalProperties": false
    },
    "output": {
      "type": "object",
      "properties": {
        "name": { "$ref": "#/$defs/identifier" },
        "initial": { "oneOf": [{ "type": "null" }, { "$ref": "#/$defs/array" }] },
        "taps": {
          "oneOf": [
            { "type": "null" },
            { "type": "integer" },
            { "type": "array", "items": { "type": "integer" } }
          ]
        },
        "return_steps": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// Validator checks scan definition documents. It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the definition schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource(definitionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}
	compiled, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Decode validates raw against the schema and the naming rules, then decodes it.
func (v *Validator) Decode(raw []byte) (*schema.Definition, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition is not valid JSON").WithCause(err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, toScanError(err)
	}

	var def schema.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot decode definition").WithCause(err)
	}
	if err := checkNames(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// checkNames enforces what the schema cannot express: every bound name is unique.
func checkNames(def *schema.Definition) error {
	seen := make(map[string]string)
	claim := func(name, where string) error {
		if name == "" {
			return nil
		}
		if prev, ok := seen[name]; ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "name %q is bound twice (%s and %s)", name, prev, where).
				WithDetails(map[string]any{"name": name})
		}
		seen[name] = where
		return nil
	}
	for i, s := range def.Sequences {
		if err := claim(s.Name, fmt.Sprintf("sequences[%d]", i)); err != nil {
			return err
		}
	}
	for i, o := range def.OutputsInfo {
		if o == nil {
			continue
		}
		if err := claim(o.Name, fmt.Sprintf("outputs_info[%d]", i)); err != nil {
			return err
		}
	}
	for i, n := range def.NonSequences {
		if err := claim(n.Name, fmt.Sprintf("non_sequences[%d]", i)); err != nil {
			return err
		}
	}
	for i, s := range def.Shared {
		if err := claim(s.Name, fmt.Sprintf("shared[%d]", i)); err != nil {
			return err
		}
	}
	params := make(map[string]struct{}, len(def.Params))
	for i, p := range def.Params {
		if _, dup := params[p]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation, "params[%d]: duplicate parameter %q", i, p)
		}
		params[p] = struct{}{}
	}
	for target := range def.Step.Updates {
		if _, isParam := params[target]; isParam {
			return schema.NewErrorf(schema.ErrCodeValidation, "update target %q is shadowed by a parameter", target)
		}
	}
	return nil
}

// toScanError flattens a schema validation failure into one error with the
// violation list in its details.
func toScanError(err error) *schema.ScanError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "definition has %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, collectViolations(c)...)
	}
	return out
}

// Package validate checks the shape of a task's opaque hooks array and
// flow_overrides object against fixed JSON schemas. This is the one
// place in the request facade where "is this JSON shaped right" is
// separated from "is this state transition legal."
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fleetci/taskhub/internal/apierr"
)

const hooksSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name", "status"],
		"properties": {
			"name":     {"type": "string", "minLength": 1},
			"status":   {"type": "string", "enum": ["pending", "passed", "failed"]},
			"evidence": {"type": "string"}
		},
		"additionalProperties": false
	}
}`

const flowOverridesSchemaJSON = `{
	"type": "object"
}`

// Validator holds the compiled schemas for a server's lifetime; schemas
// never change at runtime, so compiling once at startup is enough.
type Validator struct {
	hooks         *jsonschema.Schema
	flowOverrides *jsonschema.Schema
}

// New compiles both fixed schemas. A compile failure here is a bug in
// this package, not a runtime condition, so it panics rather than
// returning an error every caller would have to handle identically.
func New() *Validator {
	return &Validator{
		hooks:         mustCompile("hooks.json", hooksSchemaJSON),
		flowOverrides: mustCompile("flow_overrides.json", flowOverridesSchemaJSON),
	}
}

func mustCompile(resourceName, schemaJSON string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
	if err != nil {
		panic(fmt.Sprintf("validate: invalid embedded schema %s: %v", resourceName, err))
	}
	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://" + resourceName
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		panic(fmt.Sprintf("validate: add schema resource %s: %v", resourceName, err))
	}
	sch, err := compiler.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("validate: compile schema %s: %v", resourceName, err))
	}
	return sch
}

// Hooks validates a task's opaque hooks JSON array. An empty string is
// treated as an empty array and always valid.
func (v *Validator) Hooks(raw string) error {
	if raw == "" || raw == "[]" {
		return nil
	}
	return v.validateAgainst(v.hooks, raw, "hooks")
}

// FlowOverrides validates a task's opaque flow_overrides JSON object.
func (v *Validator) FlowOverrides(raw string) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return v.validateAgainst(v.flowOverrides, raw, "flow_overrides")
}

func (v *Validator) validateAgainst(sch *jsonschema.Schema, raw, field string) error {
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return apierr.Validationf("%s is not valid JSON: %v", field, err)
	}
	if err := sch.Validate(instance); err != nil {
		return apierr.Validationf("%s does not match schema: %v", field, err)
	}
	return nil
}

package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks decoded model output against a JSON Schema. The schema is
// compiled once on first use.
type Validator struct {
	name   string
	schema map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func NewValidator(name string, schema map[string]any) *Validator {
	return &Validator{name: name, schema: schema}
}

func (v *Validator) compile() {
	b, err := json.Marshal(v.schema)
	if err != nil {
		v.err = fmt.Errorf("marshal schema: %w", err)
		return
	}
	url := v.name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		v.err = fmt.Errorf("add schema: %w", err)
		return
	}
	v.compiled, v.err = compiler.Compile(url)
	if v.err != nil {
		v.err = fmt.Errorf("compile schema: %w", v.err)
	}
}

// Validate checks an already-decoded JSON value (maps, slices, float64, ...).
func (v *Validator) Validate(data any) error {
	v.once.Do(v.compile)
	if v.err != nil {
		return v.err
	}
	if err := v.compiled.Validate(data); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// Package irschema is the contract guard between the front-end DSL and the
// CollectCalls pass: it validates that a circuit IR and its annotation
// streams actually have the shape spec.md §3 requires before any semantic
// analysis runs. Modeled directly on the teacher's CUE-based validator
// ("crash early, crash loud" rather than let a malformed emission surface
// as a confusing structural-validator error three stages downstream).
package irschema

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed circuit.cue
var circuitSchemaFS embed.FS

//go:embed annotations.cue
var annotationsSchemaFS embed.FS

// Validator checks circuit IR and annotation values against the embedded
// CUE schemas.
type Validator struct {
	ctx              *cue.Context
	circuitSchema    cue.Value
	annotationSchema cue.Value
}

// New loads the embedded schemas and returns a ready-to-use Validator.
func New() (*Validator, error) {
	ctx := cuecontext.New()

	circuitBytes, err := circuitSchemaFS.ReadFile("circuit.cue")
	if err != nil {
		return nil, fmt.Errorf("loading embedded circuit schema: %w", err)
	}
	circuitSchema := ctx.CompileBytes(circuitBytes)
	if circuitSchema.Err() != nil {
		return nil, fmt.Errorf("compiling circuit schema: %w", circuitSchema.Err())
	}

	annotationBytes, err := annotationsSchemaFS.ReadFile("annotations.cue")
	if err != nil {
		return nil, fmt.Errorf("loading embedded annotations schema: %w", err)
	}
	annotationSchema := ctx.CompileBytes(annotationBytes)
	if annotationSchema.Err() != nil {
		return nil, fmt.Errorf("compiling annotations schema: %w", annotationSchema.Err())
	}

	return &Validator{ctx: ctx, circuitSchema: circuitSchema, annotationSchema: annotationSchema}, nil
}

// ValidateCircuit checks a circuit value (anything that marshals to the
// #Circuit shape, typically ir.Circuit) against circuit.cue's #Circuit
// definition.
func (v *Validator) ValidateCircuit(circuit any) error {
	return v.validateAgainst(circuit, v.circuitSchema, "#Circuit")
}

// ValidateInput checks an annotations.Input value against annotations.cue's
// #Input definition.
func (v *Validator) ValidateInput(input any) error {
	return v.validateAgainst(input, v.annotationSchema, "#Input")
}

func (v *Validator) validateAgainst(data any, schema cue.Value, defPath string) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}

	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	def := schema.LookupPath(cue.ParsePath(defPath))
	if def.Err() != nil {
		return fmt.Errorf("looking up %s definition: %w", defPath, def.Err())
	}

	unified := def.Unify(dataValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var msgs []string
		for _, e := range errors.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("schema validation failed: %v", msgs)
	}

	return nil
}

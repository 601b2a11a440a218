// Package pipeline defines the immutable phase-list definitions that drive
// analysis sessions. A pipeline is loaded from YAML, validated once, and
// never mutated afterwards; required-field lists and human gates are
// configuration data, not code paths.
package pipeline

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// HumanGate marks a phase that cannot run until an operator supplies data.
type HumanGate struct {
	// Summary is the short description shown to the operator in
	// notifications.
	Summary string `yaml:"summary"`

	// RequiredKeys are the payload keys that must be present and non-empty
	// for a submission to be accepted.
	RequiredKeys []string `yaml:"required_keys"`

	// Schema is an optional JSON schema the payload must satisfy, expressed
	// inline in the pipeline YAML. Compiled once at load time.
	Schema map[string]any `yaml:"schema"`

	compiled *jsonschema.Schema
}

// CompiledSchema returns the compiled payload schema, or nil if the gate
// declares none.
func (g *HumanGate) CompiledSchema() *jsonschema.Schema {
	if g == nil {
		return nil
	}
	return g.compiled
}

// Phase is one step of the fixed ordered pipeline.
type Phase struct {
	// Name identifies the phase within its pipeline. Unique per pipeline.
	Name string `yaml:"name"`

	// Template is the prompt-template reference resolved by the prompt
	// source.
	Template string `yaml:"template"`

	// OutputField is the archive field that receives the phase's raw text
	// when the model response is not a JSON object. Defaults to the phase
	// name.
	OutputField string `yaml:"output_field"`

	// RequiredFields are the archive fields this phase must have produced,
	// non-empty, after its result merges.
	RequiredFields []string `yaml:"required_fields"`

	// Human gates the phase on externally-supplied data when non-nil.
	Human *HumanGate `yaml:"human"`
}

// RequiresHuman reports whether the phase is gated on human input.
func (p *Phase) RequiresHuman() bool {
	return p.Human != nil
}

// Pipeline is an ordered, immutable list of phases under a name.
type Pipeline struct {
	Name   string  `yaml:"name"`
	Phases []Phase `yaml:"phases"`
}

// PhaseCount returns the number of phases.
func (p *Pipeline) PhaseCount() int {
	return len(p.Phases)
}

// Phase returns the phase at the given index, or nil if out of range.
func (p *Pipeline) Phase(i int) *Phase {
	if i < 0 || i >= len(p.Phases) {
		return nil
	}
	return &p.Phases[i]
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Load parses a pipeline definition from YAML bytes, applies defaults,
// compiles any gate schemas, and validates the result.
func Load(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}

	applyDefaults(&p)

	if err := compileGates(&p); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// LoadFile reads and loads a pipeline definition from a YAML file.
func LoadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	p, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// applyDefaults fills in derivable values: a phase with no output field
// writes its raw text under its own name.
func applyDefaults(p *Pipeline) {
	for i := range p.Phases {
		if p.Phases[i].OutputField == "" {
			p.Phases[i].OutputField = p.Phases[i].Name
		}
	}
}

// compileGates compiles the optional inline JSON schema of every human gate.
// Compilation happens once at load so submit-time validation cannot fail on
// a malformed schema.
func compileGates(p *Pipeline) error {
	for i := range p.Phases {
		gate := p.Phases[i].Human
		if gate == nil || gate.Schema == nil {
			continue
		}

		compiled, err := CompileSchema(gate.Schema)
		if err != nil {
			return fmt.Errorf("phase %q: compile gate schema: %w", p.Phases[i].Name, err)
		}
		gate.compiled = compiled
	}
	return nil
}

// CompileSchema compiles an inline schema document into a validator. Human
// gate schemas travel with their requests as plain maps, so submission-time
// validators compile from the same representation.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// Validate checks the structural invariants of a pipeline definition.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("pipeline %q has no phases", p.Name)
	}

	seen := make(map[string]bool, len(p.Phases))
	for i := range p.Phases {
		phase := &p.Phases[i]
		if phase.Name == "" {
			return fmt.Errorf("pipeline %q: phase %d has no name", p.Name, i)
		}
		if seen[phase.Name] {
			return fmt.Errorf("pipeline %q: duplicate phase name %q", p.Name, phase.Name)
		}
		seen[phase.Name] = true

		if phase.Template == "" {
			return fmt.Errorf("pipeline %q: phase %q has no template", p.Name, phase.Name)
		}

		for _, field := range phase.RequiredFields {
			if field == "" {
				return fmt.Errorf("pipeline %q: phase %q has an empty required field", p.Name, phase.Name)
			}
		}

		if gate := phase.Human; gate != nil {
			if len(gate.RequiredKeys) == 0 {
				return fmt.Errorf("pipeline %q: phase %q human gate declares no required keys", p.Name, phase.Name)
			}
			for _, key := range gate.RequiredKeys {
				if key == "" {
					return fmt.Errorf("pipeline %q: phase %q human gate has an empty required key", p.Name, phase.Name)
				}
			}
		}
	}

	return nil
}

package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/pipeline"
)

// StaticSource serves templates from an in-memory map keyed by template
// reference. Used by tests and local dry runs.
type StaticSource struct {
	templates map[string]*template.Template
}

// NewStaticSource parses the given templates up front so a bad template
// fails construction, not a phase.
func NewStaticSource(templates map[string]string) (*StaticSource, error) {
	parsed := make(map[string]*template.Template, len(templates))
	for ref, text := range templates {
		tmpl, err := template.New(ref).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse template %q: %w", ref, err)
		}
		parsed[ref] = tmpl
	}
	return &StaticSource{templates: parsed}, nil
}

// Prompt renders the phase's template against the archive snapshot.
func (s *StaticSource) Prompt(phase *pipeline.Phase, pctx Context) (string, error) {
	tmpl, ok := s.templates[phase.Template]
	if !ok {
		return "", errors.NewNotFoundError("template", phase.Template)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, snapshotContext(pctx)); err != nil {
		return "", fmt.Errorf("render template %q: %w", phase.Template, err)
	}
	return sb.String(), nil
}

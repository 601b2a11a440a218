// Package prompt defines the prompt-source seam: a pure function from
// (phase, archive snapshot) to prompt text, kept entirely outside the
// orchestration core. Determinism matters — the same archive snapshot must
// always yield the same prompt so a resumed session re-derives identical
// requests.
package prompt

import (
	"maps"

	"github.com/Iron-Ham/maestro/internal/pipeline"
)

// Context is the data a template renders against.
type Context struct {
	// Subject is the subject identifier under analysis.
	Subject string
	// Phase is the phase name from the pipeline definition.
	Phase string
	// Archive is a snapshot of the archive fields merged so far. Templates
	// must treat it as read-only.
	Archive map[string]string
}

// Source resolves a phase's template reference into prompt text.
type Source interface {
	// Prompt renders the prompt for the given phase against the archive
	// snapshot. Deterministic for identical inputs.
	Prompt(phase *pipeline.Phase, pctx Context) (string, error)
}

// snapshotContext deep-copies the archive map so template rendering can
// never alias orchestrator-owned state.
func snapshotContext(pctx Context) Context {
	pctx.Archive = maps.Clone(pctx.Archive)
	if pctx.Archive == nil {
		pctx.Archive = make(map[string]string)
	}
	return pctx
}

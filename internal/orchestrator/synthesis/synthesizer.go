// Package synthesis merges one phase's result into the cumulative archive
// while enforcing the no-field-loss and required-field invariants. A failed
// merge returns the error and leaves the input archive untouched; the
// orchestrator escalates it to a phase failure, never to success with a
// degraded archive.
package synthesis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/pipeline"
	"github.com/Iron-Ham/maestro/internal/session"
)

// Synthesizer merges phase results into archives.
type Synthesizer struct {
	logger *logging.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(logger *logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Synthesizer{logger: logger}
}

// Merge writes the fields produced by a phase into a copy of the archive
// and verifies the invariants:
//
//	(a) every field the archive held before, and which this phase does not
//	    touch, is still present and unchanged — guaranteed structurally by
//	    merging into a clone;
//	(b) no previously populated field is overwritten with an empty value;
//	(c) every field the phase is required to produce is present and
//	    non-empty after the merge.
//
// extra carries fields from outside the model response (a fulfilled human
// payload); they merge under the same rules. The returned archive has its
// PhaseIndex advanced past the merged phase. On error the input archive is
// returned unmodified alongside the SynthesisError.
func (s *Synthesizer) Merge(archive *session.Archive, phase *pipeline.Phase, result *session.PhaseResult, extra map[string]string) (*session.Archive, error) {
	if result.Status != session.ResultSuccess {
		return archive, errors.NewPhaseError("cannot merge a failed phase result", nil).
			WithPhase(result.Phase).WithPhaseName(result.Name)
	}

	produced := extractFields(result.Text, phase.OutputField)
	for k, v := range extra {
		produced[k] = v
	}

	merged := archive.Clone()
	for field, value := range produced {
		prev, existed := merged.Fields[field]
		if existed && prev != "" && value == "" {
			// Invariant (b): forward-monotonic completeness.
			return archive, errors.NewSynthesisError(field, errors.ErrFieldLost)
		}
		merged.Fields[field] = value
	}

	// Invariant (c): required output fields present and non-empty.
	for _, field := range phase.RequiredFields {
		if v, ok := merged.Fields[field]; !ok || v == "" {
			return archive, errors.NewSynthesisError(field, errors.ErrRequiredFieldEmpty)
		}
	}

	merged.PhaseIndex = result.Phase + 1
	merged.UpdatedAt = time.Now().UTC()

	s.logger.Debug("phase result merged",
		"session_id", archive.SessionID,
		"phase", result.Phase,
		"fields_produced", len(produced),
		"fields_total", len(merged.Fields),
	)
	return merged, nil
}

// extractFields turns a model response into archive fields. A response that
// parses as a JSON object contributes its top-level members; anything else
// lands whole under the phase's output field.
func extractFields(text string, outputField string) map[string]string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			fields[k] = stringifyValue(v)
		}
		return fields
	}
	return map[string]string{outputField: text}
}

// stringifyValue renders a JSON value as an archive field value. Strings
// pass through; everything else keeps its JSON encoding.
func stringifyValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

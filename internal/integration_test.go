// Package internal contains integration tests that verify the packages work
// together: the orchestrator composition, both repository backends, and event
// bus communication across a full session lifecycle.
package internal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/model"
	"github.com/Iron-Ham/maestro/internal/orchestrator"
	"github.com/Iron-Ham/maestro/internal/orchestrator/budget"
	"github.com/Iron-Ham/maestro/internal/orchestrator/handover"
	"github.com/Iron-Ham/maestro/internal/orchestrator/humanloop"
	"github.com/Iron-Ham/maestro/internal/orchestrator/prompt"
	"github.com/Iron-Ham/maestro/internal/pipeline"
	"github.com/Iron-Ham/maestro/internal/session"
)

const integrationPipeline = `
name: subject-analysis
phases:
  - name: profile
    template: profile
    required_fields: [identity]
  - name: verify
    template: verify
    human:
      summary: confirm contact details
      required_keys: [contact]
  - name: summary
    template: summary
    required_fields: [summary]
`

// eventRecorder collects every event published on a bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) record(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func buildStack(t *testing.T, repo session.Repository, ceiling int64, steps ...model.ScriptStep) (*orchestrator.Orchestrator, *eventRecorder) {
	t.Helper()

	p, err := pipeline.Load([]byte(integrationPipeline))
	if err != nil {
		t.Fatal(err)
	}
	prompts, err := prompt.NewStaticSource(map[string]string{
		"profile": "Profile {{.Subject}}.",
		"verify":  "Verify {{.Subject}} knowing {{.Archive.identity}}.",
		"summary": "Summarize {{.Subject}}.",
	})
	if err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.record)

	logger := logging.NopLogger()
	orch := orchestrator.New(orchestrator.Config{
		Repository: repo,
		Pipelines:  map[string]*pipeline.Pipeline{p.Name: p},
		Prompts:    prompts,
		Client:     model.NewScriptedClient(steps...),
		Budget:     budget.NewMonitor(budget.Config{Ceiling: ceiling, HandoverFraction: 0.7}, bus, logger),
		Handover:   handover.NewManager(repo, bus, logger),
		HumanLoop:  humanloop.NewCoordinator(humanloop.Config{Window: 24 * time.Hour}, repo, bus, logger),
		Bus:        bus,
		Logger:     logger,
	})
	return orch, rec
}

// repositories returns both backends so the full lifecycle runs against each.
func repositories(t *testing.T) map[string]session.Repository {
	t.Helper()

	fileRepo, err := session.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sqliteRepo, err := session.OpenSQLite(filepath.Join(t.TempDir(), "maestro.db"))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]session.Repository{
		"file":   fileRepo,
		"sqlite": sqliteRepo,
	}
}

// TestFullLifecycle drives one session through a human gate to completion on
// both repository backends and checks the event stream.
func TestFullLifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			orch, rec := buildStack(t, repo, 1_000_000,
				model.Respond(`{"identity": "Acme Corp"}`, 100, 100),
				model.Respond(`{"verification": "confirmed"}`, 100, 100),
				model.Respond(`{"summary": "all clear"}`, 100, 100),
			)
			ctx := context.Background()

			s, err := orch.StartSession(ctx, "Acme Corp", "subject-analysis")
			if err != nil {
				t.Fatal(err)
			}

			outcome, err := orch.Run(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			if outcome.Kind != orchestrator.OutcomeAwaitHuman {
				t.Fatalf("outcome = %q, want await_human", outcome.Kind)
			}

			if _, err := orch.SubmitHumanInput(ctx, outcome.Request.ID, map[string]string{"contact": "ops@acme.example"}); err != nil {
				t.Fatal(err)
			}

			final, err := orch.Run(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			if final.Kind != orchestrator.OutcomeDone {
				t.Fatalf("final outcome = %q, want done", final.Kind)
			}

			archive, err := orch.GetArchive(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			for _, field := range []string{"identity", "contact", "verification", "summary"} {
				if v, ok := archive.Get(field); !ok || v == "" {
					t.Errorf("archive field %q = %q, want populated", field, v)
				}
			}

			for eventType, want := range map[string]int{
				"session.started":     1,
				"humanloop.requested": 1,
				"humanloop.fulfilled": 1,
				"session.completed":   1,
				"phase.completed":     3,
			} {
				if got := rec.count(eventType); got != want {
					t.Errorf("%s events = %d, want %d", eventType, got, want)
				}
			}
		})
	}
}

// TestHandoverLifecycle checkpoints a session at the budget boundary and
// resumes it into completion on both backends.
func TestHandoverLifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			orch, rec := buildStack(t, repo, 1_000,
				model.Respond(`{"identity": "Acme Corp"}`, 400, 400),
				model.Respond(`{"verification": "n/a"}`, 50, 50),
				model.Respond(`{"summary": "done"}`, 50, 50),
			)
			ctx := context.Background()

			s, err := orch.StartSession(ctx, "Acme Corp", "subject-analysis")
			if err != nil {
				t.Fatal(err)
			}

			// Phase 0 consumes 80% of the ceiling; the session checkpoints.
			outcome, err := orch.Run(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			if outcome.Kind != orchestrator.OutcomeHandover {
				t.Fatalf("outcome = %q, want handover", outcome.Kind)
			}

			if _, err := orch.Resume(ctx, outcome.Checkpoint.ID); err != nil {
				t.Fatal(err)
			}

			// The resumed unit hits the human gate, then finishes.
			outcome, err = orch.Run(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			if outcome.Kind != orchestrator.OutcomeAwaitHuman {
				t.Fatalf("outcome after resume = %q, want await_human", outcome.Kind)
			}
			if _, err := orch.SubmitHumanInput(ctx, outcome.Request.ID, map[string]string{"contact": "ops@acme.example"}); err != nil {
				t.Fatal(err)
			}
			final, err := orch.Run(ctx, s.ID)
			if err != nil {
				t.Fatal(err)
			}
			if final.Kind != orchestrator.OutcomeDone {
				t.Fatalf("final outcome = %q, want done", final.Kind)
			}

			if got := rec.count("handover.created"); got != 1 {
				t.Errorf("handover.created events = %d, want 1", got)
			}
			if got := rec.count("handover.resumed"); got != 1 {
				t.Errorf("handover.resumed events = %d, want 1", got)
			}
			if got := rec.count("budget.threshold"); got != 1 {
				t.Errorf("budget.threshold events = %d, want 1", got)
			}
		})
	}
}

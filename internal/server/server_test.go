package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Iron-Ham/maestro/internal/config"
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

const serverPipelineYAML = `
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
`

func newTestServer(t *testing.T, steps ...model.ScriptStep) *httptest.Server {
	t.Helper()

	repo, err := session.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p, err := pipeline.Load([]byte(serverPipelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	prompts, err := prompt.NewStaticSource(map[string]string{
		"profile": "Profile {{.Subject}}.",
		"verify":  "Verify {{.Subject}}.",
		"summary": "Summarize {{.Subject}}.",
	})
	if err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	logger := logging.NopLogger()
	orch := orchestrator.New(orchestrator.Config{
		Repository: repo,
		Pipelines:  map[string]*pipeline.Pipeline{p.Name: p},
		Prompts:    prompts,
		Client:     model.NewScriptedClient(steps...),
		Budget:     budget.NewMonitor(budget.Config{Ceiling: 1_000_000, HandoverFraction: 0.7}, bus, logger),
		Handover:   handover.NewManager(repo, bus, logger),
		HumanLoop:  humanloop.NewCoordinator(humanloop.Config{Window: 24 * time.Hour}, repo, bus, logger),
		Bus:        bus,
		Logger:     logger,
	})

	cfg := config.Default()
	srv := New(cfg, orch, logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t,
		model.Respond(`{"identity": "Acme Corp"}`, 100, 100),
		model.Respond(`{"verification": "confirmed"}`, 100, 100),
		model.Respond(`{"summary": "all clear"}`, 100, 100),
	)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"subject":  "Acme Corp",
		"pipeline": "subject-analysis",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decode[session.Session](t, resp)

	// Run suspends at the human gate.
	resp = postJSON(t, ts.URL+"/api/sessions/"+created.ID+"/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d, want 200", resp.StatusCode)
	}
	outcome := decode[outcomeResponse](t, resp)
	if outcome.Kind != "await_human" || outcome.Request == nil {
		t.Fatalf("outcome = %+v, want await_human with a request", outcome)
	}

	// Poll the request.
	getResp, err := http.Get(ts.URL + "/api/requests/" + outcome.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", getResp.StatusCode)
	}
	polled := decode[session.HumanLoopRequest](t, getResp)
	if polled.Status != session.RequestPending {
		t.Errorf("request status = %q, want pending", polled.Status)
	}

	// A payload missing the required key is rejected with problems.
	resp = postJSON(t, ts.URL+"/api/requests/"+outcome.Request.ID+"/input",
		submitInputRequest{Payload: map[string]string{"contact": ""}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad submit status = %d, want 422", resp.StatusCode)
	}
	rejected := decode[errorResponse](t, resp)
	if len(rejected.Problems) == 0 {
		t.Error("rejection carried no problems")
	}

	// A valid payload fulfills the request.
	resp = postJSON(t, ts.URL+"/api/requests/"+outcome.Request.ID+"/input",
		submitInputRequest{Payload: map[string]string{"contact": "ops@acme.example"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", resp.StatusCode)
	}

	// Run to completion and read the archive.
	resp = postJSON(t, ts.URL+"/api/sessions/"+created.ID+"/run", nil)
	outcome = decode[outcomeResponse](t, resp)
	if outcome.Kind != "done" {
		t.Fatalf("final outcome = %+v, want done", outcome)
	}

	archResp, err := http.Get(ts.URL + "/api/sessions/" + created.ID + "/archive")
	if err != nil {
		t.Fatal(err)
	}
	archive := decode[session.Archive](t, archResp)
	if archive.Fields["contact"] != "ops@acme.example" {
		t.Errorf("archive contact = %q", archive.Fields["contact"])
	}
	if archive.Fields["identity"] != "Acme Corp" {
		t.Errorf("archive identity = %q", archive.Fields["identity"])
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStartSessionValidationOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"subject":  "",
		"pipeline": "subject-analysis",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestUnknownCheckpointIs404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/checkpoints/no-such-checkpoint/resume", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

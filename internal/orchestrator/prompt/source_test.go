package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/pipeline"
)

func writeTemplate(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFileSourcePrompt(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "analysis/profile.tmpl",
		"Analyze {{.Subject}} in phase {{.Phase}}. Known: {{.Archive.identity}}")

	src, err := NewFileSource(dir)
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}

	phase := &pipeline.Phase{Name: "profile", Template: "analysis/profile.tmpl"}
	got, err := src.Prompt(phase, Context{
		Subject: "acme-corp",
		Phase:   "profile",
		Archive: map[string]string{"identity": "Acme Corp"},
	})
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	want := "Analyze acme-corp in phase profile. Known: Acme Corp"
	if got != want {
		t.Errorf("Prompt() = %q, want %q", got, want)
	}
}

func TestFileSourceBaseNameLookup(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "nested/deep/report.tmpl", "Report on {{.Subject}}")

	src, err := NewFileSource(dir)
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}

	phase := &pipeline.Phase{Name: "report", Template: "report.tmpl"}
	got, err := src.Prompt(phase, Context{Subject: "x"})
	if err != nil {
		t.Fatalf("Prompt() by base name error = %v", err)
	}
	if got != "Report on x" {
		t.Errorf("Prompt() = %q", got)
	}
}

func TestFileSourceDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "p.tmpl", "{{.Subject}}:{{.Archive.a}}")

	src, err := NewFileSource(dir)
	if err != nil {
		t.Fatal(err)
	}

	phase := &pipeline.Phase{Name: "p", Template: "p.tmpl"}
	pctx := Context{Subject: "s", Archive: map[string]string{"a": "1"}}

	first, err := src.Prompt(phase, pctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := src.Prompt(phase, pctx)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Prompt() not deterministic: %q vs %q", first, second)
	}
}

func TestFileSourceMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "exists.tmpl", "x")

	src, err := NewFileSource(dir)
	if err != nil {
		t.Fatal(err)
	}

	phase := &pipeline.Phase{Name: "p", Template: "missing.tmpl"}
	_, err = src.Prompt(phase, Context{})
	var notFound *errors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Prompt(missing) error = %v, want NotFoundError", err)
	}
}

func TestFileSourceEmptyDir(t *testing.T) {
	if _, err := NewFileSource(t.TempDir()); err == nil {
		t.Error("NewFileSource(empty dir) succeeded, want error")
	}
}

func TestStaticSource(t *testing.T) {
	src, err := NewStaticSource(map[string]string{
		"greet.tmpl": "Hello {{.Subject}}",
	})
	if err != nil {
		t.Fatalf("NewStaticSource() error = %v", err)
	}

	phase := &pipeline.Phase{Name: "greet", Template: "greet.tmpl"}
	got, err := src.Prompt(phase, Context{Subject: "world"})
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	if got != "Hello world" {
		t.Errorf("Prompt() = %q, want \"Hello world\"", got)
	}

	_, err = src.Prompt(&pipeline.Phase{Template: "nope"}, Context{})
	var notFound *errors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Prompt(unknown) error = %v, want NotFoundError", err)
	}
}

func TestStaticSourceBadTemplate(t *testing.T) {
	_, err := NewStaticSource(map[string]string{"bad": "{{.Unclosed"})
	if err == nil || !strings.Contains(err.Error(), "parse template") {
		t.Errorf("NewStaticSource(bad) error = %v, want parse error", err)
	}
}

func TestSnapshotContextDoesNotAlias(t *testing.T) {
	original := map[string]string{"k": "v"}
	snapped := snapshotContext(Context{Archive: original})

	snapped.Archive["k"] = "mutated"
	if original["k"] != "v" {
		t.Error("snapshotContext aliased the caller's archive map")
	}
}

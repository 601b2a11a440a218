package prompt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/pipeline"
)

// FileSource loads prompt templates from a directory tree. A phase's
// template reference is resolved against the discovered files by exact
// relative path first, then by base name, so pipelines can say either
// "analysis/profile.tmpl" or just "profile.tmpl".
type FileSource struct {
	dir string

	mu        sync.Mutex
	templates map[string]*template.Template // Resolved ref -> parsed template
	paths     map[string]string             // Name/relative path -> absolute path
}

// NewFileSource discovers templates under dir (recursively, *.tmpl) and
// returns a source over them.
func NewFileSource(dir string) (*FileSource, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("discover templates: %w", err)
	}
	if len(matches) == 0 {
		return nil, errors.NewNotFoundError("template directory with *.tmpl files", dir)
	}

	paths := make(map[string]string, len(matches)*2)
	for _, rel := range matches {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		paths[rel] = abs

		// Base-name lookups only stay unambiguous while unique.
		base := filepath.Base(rel)
		if _, ok := paths[base]; ok && paths[base] != abs {
			paths[base] = ""
		} else {
			paths[base] = abs
		}
	}

	return &FileSource{
		dir:       dir,
		templates: make(map[string]*template.Template),
		paths:     paths,
	}, nil
}

// Prompt renders the phase's template against the archive snapshot.
func (s *FileSource) Prompt(phase *pipeline.Phase, pctx Context) (string, error) {
	tmpl, err := s.lookup(phase.Template)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, snapshotContext(pctx)); err != nil {
		return "", fmt.Errorf("render template %q: %w", phase.Template, err)
	}
	return sb.String(), nil
}

// lookup parses a template once and caches it.
func (s *FileSource) lookup(ref string) (*template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tmpl, ok := s.templates[ref]; ok {
		return tmpl, nil
	}

	abs, ok := s.paths[filepath.ToSlash(ref)]
	if !ok || abs == "" {
		return nil, errors.NewNotFoundError("template", ref)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFoundError("template", ref)
		}
		return nil, fmt.Errorf("read template %q: %w", ref, err)
	}

	tmpl, err := template.New(ref).Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", ref, err)
	}

	s.templates[ref] = tmpl
	return tmpl, nil
}

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/event"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/model"
	"github.com/Iron-Ham/maestro/internal/orchestrator"
	"github.com/Iron-Ham/maestro/internal/orchestrator/prompt"
	"github.com/Iron-Ham/maestro/internal/pipeline"
	"github.com/Iron-Ham/maestro/internal/session"
)

// app bundles the assembled collaborators behind every subcommand.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	repo   session.Repository
	bus    *event.Bus
	orch   *orchestrator.Orchestrator
}

// buildApp assembles the application from the loaded configuration. Commands
// that execute phases need a model command configured; read-only commands
// pass needsModel=false and work without one.
func buildApp(needsModel bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := buildRepository(cfg)
	if err != nil {
		return nil, err
	}

	pipelines, err := loadPipelines(cfg)
	if err != nil {
		return nil, err
	}

	prompts, err := buildPromptSource(cfg)
	if err != nil {
		return nil, err
	}

	client, err := buildModelClient(cfg, logger, needsModel)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	event.NewNotifier(nil).Attach(bus)

	orch := orchestrator.NewFromConfig(cfg, repo, pipelines, prompts, client, bus, logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		bus:    bus,
		orch:   orch,
	}, nil
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRotation(
		filepath.Join(config.DataDir(), "logs"),
		cfg.Logging.Level,
		logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	)
}

func buildRepository(cfg *config.Config) (session.Repository, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return session.OpenSQLite(cfg.Storage.StoragePath())
	case "file", "":
		return session.NewFileRepository(cfg.Storage.StoragePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q (valid: %v)",
			cfg.Storage.Backend, config.ValidStorageBackends())
	}
}

func loadPipelines(cfg *config.Config) (map[string]*pipeline.Pipeline, error) {
	if cfg.Pipeline.Path == "" {
		return nil, fmt.Errorf("no pipeline configured: set pipeline.path in %s", config.ConfigFile())
	}
	p, err := pipeline.LoadFile(cfg.Pipeline.Path)
	if err != nil {
		return nil, err
	}
	return map[string]*pipeline.Pipeline{p.Name: p}, nil
}

func buildPromptSource(cfg *config.Config) (prompt.Source, error) {
	if cfg.Pipeline.TemplateDir == "" {
		return nil, fmt.Errorf("no template directory configured: set pipeline.template_dir in %s", config.ConfigFile())
	}
	return prompt.NewFileSource(cfg.Pipeline.TemplateDir)
}

func buildModelClient(cfg *config.Config, logger *logging.Logger, needsModel bool) (model.Client, error) {
	if cfg.Model.Command == "" {
		if needsModel {
			return nil, fmt.Errorf("no model command configured: set model.command in %s", config.ConfigFile())
		}
		// Read-only commands never execute a phase; an exhausted scripted
		// client guards against accidental use.
		return model.NewScriptedClient(), nil
	}

	inner, err := model.NewCommandClient(cfg.Model.Command)
	if err != nil {
		return nil, err
	}
	return model.NewRetryClient(inner, model.RetryConfig{
		MaxRetries:     cfg.Model.MaxRetries,
		InitialBackoff: cfg.Model.InitialBackoff(),
	}, logger), nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/maestro/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage maestro configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  `Write the default configuration to the user config directory. Refuses to overwrite an existing file.`,
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(configDocument(cfg))
	if err != nil {
		return err
	}
	fmt.Printf("# effective configuration (file: %s)\n%s", config.ConfigFile(), out)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	out, err := yaml.Marshal(configDocument(config.Default()))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

// configDocument renders a Config as the YAML keys the loader reads back,
// since mapstructure tags do not drive yaml encoding.
func configDocument(cfg *config.Config) map[string]any {
	return map[string]any{
		"budget": map[string]any{
			"context_window":    cfg.Budget.ContextWindow,
			"handover_fraction": cfg.Budget.HandoverFraction,
		},
		"human_loop": map[string]any{
			"timeout_hours":          cfg.HumanLoop.TimeoutHours,
			"sweep_interval_seconds": cfg.HumanLoop.SweepIntervalSeconds,
		},
		"model": map[string]any{
			"command":            cfg.Model.Command,
			"max_retries":        cfg.Model.MaxRetries,
			"initial_backoff_ms": cfg.Model.InitialBackoffMs,
		},
		"storage": map[string]any{
			"backend": cfg.Storage.Backend,
			"path":    cfg.Storage.Path,
		},
		"pipeline": map[string]any{
			"path":         cfg.Pipeline.Path,
			"template_dir": cfg.Pipeline.TemplateDir,
		},
		"server": map[string]any{
			"addr": cfg.Server.Addr,
		},
		"logging": map[string]any{
			"enabled":     cfg.Logging.Enabled,
			"level":       cfg.Logging.Level,
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
		},
	}
}

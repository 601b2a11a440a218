package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the complete Maestro configuration
type Config struct {
	Budget    BudgetConfig    `mapstructure:"budget"`
	HumanLoop HumanLoopConfig `mapstructure:"human_loop"`
	Model     ModelConfig     `mapstructure:"model"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BudgetConfig controls the context budget monitor
type BudgetConfig struct {
	// ContextWindow is the maximum safe token size of one continuous
	// execution unit
	ContextWindow int64 `mapstructure:"context_window"`
	// HandoverFraction is the fraction of the context window at which a
	// handover checkpoint is cut (checked between phases, never mid-phase)
	HandoverFraction float64 `mapstructure:"handover_fraction"`
}

// HumanLoopConfig controls human-input requests
type HumanLoopConfig struct {
	// TimeoutHours is the response window for a human-loop request
	TimeoutHours int `mapstructure:"timeout_hours"`
	// SweepIntervalSeconds is how often the coordinator's sweeper checks
	// pending requests for reminders and expiry
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// ModelConfig controls the retrying model client wrapper
type ModelConfig struct {
	// Command is the external model command; it receives the prompt on stdin
	// and must print a JSON result on stdout
	Command string `mapstructure:"command"`
	// MaxRetries is the number of attempts over transient API errors before
	// the client reports exhaustion
	MaxRetries int `mapstructure:"max_retries"`
	// InitialBackoffMs is the first retry delay; it doubles per attempt
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
}

// StorageConfig selects and locates the repository backend
type StorageConfig struct {
	// Backend is "file" or "sqlite"
	Backend string `mapstructure:"backend"`
	// Path is the data directory (file backend) or database file (sqlite
	// backend); empty means the default under the user data directory
	Path string `mapstructure:"path"`
}

// PipelineConfig locates pipeline definitions and prompt templates
type PipelineConfig struct {
	// Path is the pipeline definition YAML file
	Path string `mapstructure:"path"`
	// TemplateDir is the root directory searched for prompt templates
	TemplateDir string `mapstructure:"template_dir"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	// Addr is the listen address for `maestro serve`
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		Budget: BudgetConfig{
			ContextWindow:    200_000,
			HandoverFraction: 0.70, // headroom to synthesize and checkpoint before the true ceiling
		},
		HumanLoop: HumanLoopConfig{
			TimeoutHours:         24,
			SweepIntervalSeconds: 30,
		},
		Model: ModelConfig{
			Command:          "",
			MaxRetries:       3,
			InitialBackoffMs: 500,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    "", // Empty means use default: DataDir()
		},
		Pipeline: PipelineConfig{
			Path:        "",
			TemplateDir: "",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8487",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Timeout returns the human-loop response window as a time.Duration
func (c *HumanLoopConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutHours) * time.Hour
}

// SweepInterval returns the sweeper tick interval as a time.Duration
func (c *HumanLoopConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// InitialBackoff returns the first retry delay as a time.Duration
func (c *ModelConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Budget defaults
	viper.SetDefault("budget.context_window", defaults.Budget.ContextWindow)
	viper.SetDefault("budget.handover_fraction", defaults.Budget.HandoverFraction)

	// Human loop defaults
	viper.SetDefault("human_loop.timeout_hours", defaults.HumanLoop.TimeoutHours)
	viper.SetDefault("human_loop.sweep_interval_seconds", defaults.HumanLoop.SweepIntervalSeconds)

	// Model defaults
	viper.SetDefault("model.command", defaults.Model.Command)
	viper.SetDefault("model.max_retries", defaults.Model.MaxRetries)
	viper.SetDefault("model.initial_backoff_ms", defaults.Model.InitialBackoffMs)

	// Storage defaults
	viper.SetDefault("storage.backend", defaults.Storage.Backend)
	viper.SetDefault("storage.path", defaults.Storage.Path)

	// Pipeline defaults
	viper.SetDefault("pipeline.path", defaults.Pipeline.Path)
	viper.SetDefault("pipeline.template_dir", defaults.Pipeline.TemplateDir)

	// Server defaults
	viper.SetDefault("server.addr", defaults.Server.Addr)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// BindFlags binds a command's flag set into viper so flags override file and
// environment values
func BindFlags(fs *pflag.FlagSet) error {
	return viper.BindPFlags(fs)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	// Fall back to ~/.config/maestro
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".config", "maestro")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the default data directory for session storage
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestro")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro-data"
	}
	return filepath.Join(home, ".local", "share", "maestro")
}

// StoragePath returns the configured storage path, falling back to the
// default data directory when unset
func (c *StorageConfig) StoragePath() string {
	if c.Path != "" {
		return c.Path
	}
	if c.Backend == "sqlite" {
		return filepath.Join(DataDir(), "maestro.db")
	}
	return DataDir()
}

// ValidStorageBackends returns the list of valid storage backend values
func ValidStorageBackends() []string {
	return []string{"file", "sqlite"}
}

// IsValidStorageBackend checks if the given backend is valid
func IsValidStorageBackend(backend string) bool {
	for _, valid := range ValidStorageBackends() {
		if backend == valid {
			return true
		}
	}
	return false
}

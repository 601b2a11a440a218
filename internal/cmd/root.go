// Package cmd implements the maestro command line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/maestro/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Phased LLM analysis orchestrator",
	Long: `Maestro runs analysis sessions through fixed, ordered pipelines of
model-backed phases, merging each phase's output into a cumulative
archive. Sessions checkpoint before exhausting their context budget and
suspend on phases that need human-supplied data.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/maestro/config.yaml)")
	_ = config.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/maestro")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MAESTRO")
	// Replace dots with underscores for nested keys in env vars
	// e.g., MAESTRO_BUDGET_CONTEXT_WINDOW for budget.context_window
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

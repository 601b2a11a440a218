package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startPipeline string

var startCmd = &cobra.Command{
	Use:   "start <subject>",
	Short: "Start a new analysis session",
	Long: `Start a new analysis session for a subject. The session begins at
phase 0 with an empty archive; use 'maestro run' or 'maestro advance'
to execute phases.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&startPipeline, "pipeline", "p", "", "pipeline name (defaults to the configured pipeline)")
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}

	pipelineName := startPipeline
	if pipelineName == "" {
		pipelineName = a.cfg.Pipeline.Path
		// The configured pipeline file carries its own name; resolve it.
		pipelines, err := loadPipelines(a.cfg)
		if err != nil {
			return err
		}
		for name := range pipelines {
			pipelineName = name
		}
	}

	s, err := a.orch.StartSession(cmd.Context(), args[0], pipelineName)
	if err != nil {
		return err
	}

	fmt.Printf("Started session %s\n", s.ID)
	fmt.Printf("  Subject:  %s\n", s.Subject)
	fmt.Printf("  Pipeline: %s\n", s.Pipeline)
	fmt.Printf("\nRun 'maestro run %s' to execute it.\n", s.ID)
	return nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeRun bool

var resumeCmd = &cobra.Command{
	Use:   "resume <checkpoint-id>",
	Short: "Resume a session from a handover checkpoint",
	Long: `Consume a handover checkpoint and rehydrate its session in a fresh
execution unit. Checkpoints are single-use: a second resume of the
same checkpoint is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().BoolVar(&resumeRun, "run", false, "continue running the session after the resume")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := buildApp(resumeRun)
	if err != nil {
		return err
	}

	s, err := a.orch.Resume(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Session %s resumed at phase %d.\n", s.ID, s.PhaseIndex)

	if !resumeRun {
		fmt.Printf("Run 'maestro run %s' to continue it.\n", s.ID)
		return nil
	}

	outcome, err := a.orch.Run(cmd.Context(), s.ID)
	if err != nil {
		return err
	}
	printOutcome(outcome)
	return nil
}

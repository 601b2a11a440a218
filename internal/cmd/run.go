package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Run a session until it suspends or finishes",
	Long: `Drive a session phase by phase until it completes, fails, suspends
on a human-loop request, or checkpoints at a handover boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var advanceCmd = &cobra.Command{
	Use:   "advance <session-id>",
	Short: "Execute at most one phase of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdvance,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(advanceCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}

	outcome, err := a.orch.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printOutcome(outcome)
	return nil
}

func runAdvance(cmd *cobra.Command, args []string) error {
	a, err := buildApp(true)
	if err != nil {
		return err
	}

	outcome, err := a.orch.Advance(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printOutcome(outcome)
	return nil
}

func printOutcome(o *orchestrator.Outcome) {
	switch o.Kind {
	case orchestrator.OutcomeContinue:
		fmt.Printf("Phase merged; next phase is %d.\n", o.NextPhase)
	case orchestrator.OutcomeDone:
		fmt.Println("Session completed.")
	case orchestrator.OutcomeAwaitHuman:
		fmt.Printf("Awaiting human input: %s\n", o.Request.Summary)
		fmt.Printf("  Request:  %s\n", o.Request.ID)
		fmt.Printf("  Keys:     %v\n", o.Request.RequiredKeys)
		fmt.Printf("  Expires:  %s\n", o.Request.ExpiresAt.Format("2006-01-02 15:04 MST"))
		fmt.Printf("\nSubmit with 'maestro submit %s key=value ...'\n", o.Request.ID)
	case orchestrator.OutcomeHandover:
		fmt.Printf("Checkpointed before phase %d (%s).\n", o.NextPhase, o.Checkpoint.Reason)
		fmt.Printf("  Checkpoint: %s\n", o.Checkpoint.ID)
		fmt.Printf("\nResume with 'maestro resume %s'\n", o.Checkpoint.ID)
	case orchestrator.OutcomeFailed:
		fmt.Printf("Session failed: %s\n", o.Reason)
	}
}

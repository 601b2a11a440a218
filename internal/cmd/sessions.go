package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List analysis sessions",
	Long: `List all sessions with their status, phase progress, and token
usage. Suspended sessions show what they wait on.`,
	RunE: runSessions,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session",
	Long: `Cancel a session. A suspended session fails immediately; a running
one stops at its next phase boundary. Completed phases keep their
archive entries.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cancelCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}

	sessions, err := a.orch.ListSessions(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Println("Maestro Sessions")
	fmt.Println(strings.Repeat("─", 70))

	if len(sessions) == 0 {
		fmt.Println("\nNo sessions found.")
		fmt.Println("Run 'maestro start <subject>' to create one.")
		return nil
	}

	fmt.Printf("\nFound %d session(s):\n\n", len(sessions))
	for _, s := range sessions {
		fmt.Printf("  Session: %s\n", s.ID)
		fmt.Printf("    Subject:  %s\n", s.Subject)
		fmt.Printf("    Pipeline: %s\n", s.Pipeline)
		fmt.Printf("    Phase:    %d\n", s.PhaseIndex)
		fmt.Printf("    Status:   %s%s\n", s.Status, reasonSuffix(s))
		fmt.Printf("    Tokens:   %d lifetime / %d this unit\n", s.LifetimeTokens, s.UnitTokens)
		fmt.Printf("    Updated:  %s\n", s.UpdatedAt.Format(time.RFC822))
		if s.PendingRequestID != "" {
			fmt.Printf("    Waiting:  request %s\n", s.PendingRequestID)
		}
		fmt.Println()
	}
	return nil
}

func reasonSuffix(s *session.Session) string {
	if s.Reason == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", s.Reason)
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}

	s, err := a.orch.Cancel(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if s.Status == session.StatusFailed {
		fmt.Printf("Session %s cancelled.\n", s.ID)
	} else {
		fmt.Printf("Session %s will stop at its next phase boundary.\n", s.ID)
	}
	return nil
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var archiveJSON bool

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Show a session's cumulative archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().BoolVar(&archiveJSON, "json", false, "print the archive as JSON")
}

func runArchive(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}

	archive, err := a.orch.GetArchive(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if archiveJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(archive)
	}

	fmt.Printf("Archive for session %s (%d phases merged)\n\n", archive.SessionID, archive.PhaseIndex)

	fields := make([]string, 0, len(archive.Fields))
	for k := range archive.Fields {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Printf("  %s: %s\n", f, archive.Fields[f])
	}
	return nil
}

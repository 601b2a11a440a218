package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View and export maestro logs",
	Long: `View, filter, and export entries from the JSON debug log.

Examples:
  # Show the last 50 entries
  maestro logs

  # Everything one session logged
  maestro logs -s abc123 -n 0

  # Warnings and errors from the last hour
  maestro logs --level warn --since 1h

  # Export a session's entries as CSV
  maestro logs -s abc123 -n 0 -o session.csv --format csv`,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsRequestID string
	logsLevel     string
	logsSince     string
	logsContains  string
	logsTail      int
	logsOutput    string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "filter to one session id")
	logsCmd.Flags().StringVar(&logsRequestID, "request", "", "filter to one human-loop request id")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "entries since duration ago (e.g. 1h, 30m)")
	logsCmd.Flags().StringVar(&logsContains, "contains", "", "entries whose message contains the substring")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of entries to show (0 for all)")
	logsCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "export to a file instead of printing")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "export format: json, text, or csv")
}

func runLogs(cmd *cobra.Command, args []string) error {
	logDir := filepath.Join(config.DataDir(), "logs")

	entries, err := logging.AggregateLogs(logDir)
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		SessionID:       logsSessionID,
		RequestID:       logsRequestID,
		MessageContains: logsContains,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.StartTime = time.Now().Add(-d)
	}
	entries = logging.FilterLogs(entries, filter)

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if logsOutput != "" {
		if err := logging.ExportLogEntries(entries, logsOutput, logsFormat); err != nil {
			return err
		}
		fmt.Printf("Exported %d entries to %s\n", len(entries), logsOutput)
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No matching log entries found.")
		return nil
	}
	for _, entry := range entries {
		fmt.Println(formatLogEntry(entry))
	}
	return nil
}

// formatLogEntry renders one entry for the terminal. Attrs print in sorted
// key order so repeated runs line up.
func formatLogEntry(e logging.LogEntry) string {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString("] ")
	sb.WriteString(e.Level)
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	if e.SessionID != "" {
		fmt.Fprintf(&sb, " session=%s", e.SessionID)
	}
	if e.Phase != "" {
		fmt.Fprintf(&sb, " phase=%s", e.Phase)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&sb, " request=%s", e.RequestID)
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}

	return sb.String()
}

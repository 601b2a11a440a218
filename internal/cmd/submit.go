package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/errors"
)

var submitCmd = &cobra.Command{
	Use:   "submit <request-id> <key=value>...",
	Short: "Fulfill a human-loop request",
	Long: `Submit a payload for a pending human-loop request. Each argument
after the request id is one key=value pair. A rejected payload lists
its problems and may be resubmitted; the request stays open until it
expires.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(args[1:])
	if err != nil {
		return err
	}

	a, err := buildApp(false)
	if err != nil {
		return err
	}

	req, err := a.orch.SubmitHumanInput(cmd.Context(), args[0], payload)
	if err != nil {
		var humanErr *errors.HumanInputError
		if errors.As(err, &humanErr) {
			fmt.Println("Submission rejected:")
			for _, p := range humanErr.Problems {
				fmt.Printf("  - %s\n", p)
			}
			fmt.Println("\nCorrect the payload and resubmit.")
		}
		return err
	}

	fmt.Printf("Request %s fulfilled.\n", req.ID)
	fmt.Printf("Run 'maestro run %s' to continue the session.\n", req.SessionID)
	return nil
}

// parsePayload turns key=value arguments into a payload map.
func parsePayload(pairs []string) (map[string]string, error) {
	payload := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q: expected key=value", pair)
		}
		payload[key] = value
	}
	return payload, nil
}

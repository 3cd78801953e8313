package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sat18-labs/sat18/internal/tuner"
)

func newParseConfigCmd() *cobra.Command {
	var gate bool
	cmd := &cobra.Command{
		Use:   "parse-config FILE|-",
		Short: "Validate an adaptive config produced by an LLM",
		Long: `Parse untrusted adaptive config text and print the validated config.

The output is always a usable config: anything malformed becomes the
MANUAL_APPROVAL fallback. With --gate, a confidence below 0.6 also forces
MANUAL_APPROVAL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			cfg := tuner.SafeParse(raw, time.Now())
			if gate {
				cfg = tuner.Gate(cfg)
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().BoolVar(&gate, "gate", false, "apply the confidence gate")
	return cmd
}

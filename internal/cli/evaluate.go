package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sat18-labs/sat18/internal/idt"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/tuner"
)

func newEvaluateCmd(opts *options) *cobra.Command {
	var contextPath, policyPath string
	cmd := &cobra.Command{
		Use:   "evaluate --context FILE",
		Short: "Evaluate a decision context against a policy",
		Long: `Evaluate a decision context and print the decision and the adaptive config.

Without --server the tree is evaluated locally: the default tree, or the
document given with --policy. With --server the server's policy decides and
the decision is audited there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var dctx model.DecisionContext
			if err := readJSON(cmd, contextPath, &dctx); err != nil {
				return err
			}
			if err := dctx.Validate(); err != nil {
				return fmt.Errorf("invalid context: %w", err)
			}

			if opts.serverURL != "" {
				if policyPath != "" {
					return fmt.Errorf("--policy cannot be combined with --server")
				}
				c, err := opts.client()
				if err != nil {
					return err
				}
				resp, err := c.Evaluate(cmd.Context(), dctx)
				if err != nil {
					return fmt.Errorf("evaluate: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), resp)
			}

			root, err := loadTree(policyPath)
			if err != nil {
				return err
			}
			d := idt.Evaluate(root, dctx, idt.WithObserver(idt.LogObserver{Logger: opts.logger(cmd.ErrOrStderr())}))
			return printJSON(cmd.OutOrStdout(), model.EvaluateResponse{
				Decision: d,
				Config:   tuner.Translate(d.Actions, time.Now()),
			})
		},
	}
	cmd.Flags().StringVar(&contextPath, "context", "", "decision context JSON file, or - for stdin")
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy document (YAML or JSON); default tree when empty")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func loadTree(path string) (*policy.Node, error) {
	if path == "" {
		return policy.DefaultTree(policy.DefaultThresholds()), nil
	}
	return policy.LoadFile(path)
}

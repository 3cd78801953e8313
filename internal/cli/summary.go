package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSummaryCmd(opts *options) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "summary --project P",
		Short: "Show a project's decision accuracy from a SAT18 server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			s, err := c.FeedbackSummary(cmd.Context(), project)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project identifier")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sat18-labs/sat18/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate policy documents",
	}
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyValidateCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [FILE]",
		Short: "Print a policy document as YAML (the default tree without FILE)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			root, err := loadTree(path)
			if err != nil {
				return err
			}
			out, err := policy.Marshal(root)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a policy document without loading it into a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			nodes := 0
			root.Walk(func(*policy.Node) { nodes++ })
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, root %q)\n", args[0], nodes, root.ID)
			return nil
		},
	}
}

// Package cli implements sat18ctl, the operator command line for SAT18.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sat18-labs/sat18/internal/scheduler"
)

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	clientID  string
	apiKey    string
	verbose   bool

	// newDeployer builds the deployer autodeploy runs. Tests replace it.
	newDeployer func(command string, logger *slog.Logger) scheduler.Deployer
}

// NewRootCmd builds the sat18ctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{newDeployer: newExecDeployer}
	return newRootCmd(version, opts)
}

func newRootCmd(version string, opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sat18ctl",
		Short: "Operate the SAT18 deployment decision engine",
		Long: `sat18ctl evaluates decision contexts, validates adaptive configs and
policy documents, and talks to a running SAT18 server.

Server commands read SAT18_SERVER, SAT18_CLIENT_ID and SAT18_API_KEY when
the matching flags are not set.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", os.Getenv("SAT18_SERVER"), "SAT18 server URL")
	rootCmd.PersistentFlags().StringVar(&opts.clientID, "client-id", envOr("SAT18_CLIENT_ID", "sat18ctl"), "client id for the handshake")
	rootCmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("SAT18_API_KEY"), "API key for the handshake")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "V", false, "verbose logging on stderr")

	rootCmd.AddCommand(newEvaluateCmd(opts))
	rootCmd.AddCommand(newParseConfigCmd())
	rootCmd.AddCommand(newPolicyCmd())
	rootCmd.AddCommand(newSummaryCmd(opts))
	rootCmd.AddCommand(newAutodeployCmd(opts))

	return rootCmd
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

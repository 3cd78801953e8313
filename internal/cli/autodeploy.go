package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/sat18-labs/sat18/internal/decisionctx"
	"github.com/sat18-labs/sat18/internal/idt"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/scheduler"
	"github.com/sat18-labs/sat18/internal/service/audit"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/tuner"
)

const (
	autodeployPoll       = 100 * time.Millisecond
	autodeployDrainLimit = 5 * time.Second
)

// autodeployResult is printed when the command finishes.
type autodeployResult struct {
	Plan   scheduler.Plan   `json:"plan"`
	Status scheduler.Status `json:"status"`
}

func newAutodeployCmd(opts *options) *cobra.Command {
	var insightPath, policyPath, command string
	cmd := &cobra.Command{
		Use:   "autodeploy --insight FILE --command CMD",
		Short: "Decide on and run one automatic deployment",
		Long: `Build a decision context from a health insight, evaluate it locally and hand
the resulting config to the deploy scheduler.

The feedback summary is read from --server and the decision is audited there.
IMMEDIATE and DELAYED configs run CMD through the shell once the delay has
passed; MANUAL_APPROVAL and low-confidence configs never run it.

The insight file holds an adaptive-config request:
  {"project": "...", "insight": {...}, "system": {...}, "logs": [...]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req model.AdaptiveConfigRequest
			if err := readJSON(cmd, insightPath, &req); err != nil {
				return err
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}
			root, err := loadTree(policyPath)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			logger := opts.logger(cmd.ErrOrStderr())
			ctx := cmd.Context()

			recorder := audit.NewRecorder(c, logger, audit.Config{FlushInterval: 200 * time.Millisecond})
			recorder.Start(ctx)
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), autodeployDrainLimit)
				defer cancel()
				recorder.Drain(drainCtx)
			}()

			svc := decisions.New(
				decisionctx.NewBuilder(c, logger, decisionctx.BuilderConfig{}),
				idt.NewEvaluator(policy.Static{Root: root}, recorder),
				nil,
				logger,
			)

			sched := scheduler.New(opts.newDeployer(command, logger), logger)
			defer sched.Close()

			plan, err := sched.Apply(ctx, svc.RuleProvider(), tuner.Request{
				Project: req.Project,
				Insight: req.Insight,
				System:  req.System,
				Logs:    req.Logs,
			})
			if err != nil {
				return err
			}
			if plan.State == scheduler.StateScheduled {
				if err := waitForDeploy(ctx, sched); err != nil {
					sched.Cancel()
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), autodeployResult{Plan: plan, Status: sched.Status()})
		},
	}
	cmd.Flags().StringVar(&insightPath, "insight", "", "adaptive-config request JSON file, or - for stdin")
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy document; default tree when empty")
	cmd.Flags().StringVar(&command, "command", "", "shell command that performs the deployment")
	_ = cmd.MarkFlagRequired("insight")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

// waitForDeploy blocks until the scheduled deployment ran or was skipped.
func waitForDeploy(ctx context.Context, sched *scheduler.Scheduler) error {
	ticker := time.NewTicker(autodeployPoll)
	defer ticker.Stop()
	for {
		st := sched.Status()
		if st.Deployments > 0 || st.Skipped > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newExecDeployer runs command through sh -c with the caller's stdio.
func newExecDeployer(command string, logger *slog.Logger) scheduler.Deployer {
	return scheduler.DeployFunc(func(ctx context.Context) error {
		logger.Info("autodeploy: running deploy command", "command", command)
		c := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // operator-supplied command
		c.Stdout = os.Stderr
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("deploy command: %w", err)
		}
		return nil
	})
}

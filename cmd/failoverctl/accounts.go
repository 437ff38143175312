package main

import (
	"context"

	"telephony-failover/internal/app"
	"telephony-failover/internal/audit"
	"telephony-failover/internal/failover"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <account-id>",
	Short: "Run a fleet health check and print the classification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, err := a.Monitor.Run(ctx, args[0])
			if err != nil {
				return err
			}
			d := failover.Classify(s)
			logAudit(cmd, a.Audit.LogAccountAction(ctx, audit.EventTypeHealthCheck, cliActor(), args[0], "", "decision "+string(d), ""))
			return printJSON(cmd.OutOrStdout(), map[string]any{"summary": s, "decision": d})
		})
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <account-id>",
	Short: "Check, classify and open a failover event when warranted",
	Long: `Run the same pass the monitor runs on every tick for one account.

A CRITICAL result is executed before the command returns. A DEGRADED event
is left pending; its approval window runs in the monitor process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out, err := a.Orchestrator.Evaluate(ctx, args[0])
			if err != nil {
				return err
			}
			eventID := ""
			if out.Event != nil {
				eventID = out.Event.ID
			}
			logAudit(cmd, a.Audit.LogAccountAction(ctx, audit.EventTypeEvaluation, cliActor(), args[0], eventID, "decision "+string(out.Decision), ""))
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var triggerReason string

var triggerCmd = &cobra.Command{
	Use:   "trigger <account-id>",
	Short: "Open a manual failover event for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			actor := cliActor()
			ev, err := a.Orchestrator.TriggerManual(ctx, args[0], actor.ID, triggerReason)
			if err != nil {
				return err
			}
			logAudit(cmd, a.Audit.LogAccountAction(ctx, audit.EventTypeManualTrigger, actor, args[0], ev.ID, ev.Reason, ""))
			return printJSON(cmd.OutOrStdout(), ev)
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(triggerCmd)

	triggerCmd.Flags().StringVar(&triggerReason, "reason", "", "Why the failover is requested")
}

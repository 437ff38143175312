package main

import (
	"context"
	"fmt"
	"strconv"

	"telephony-failover/internal/app"
	"telephony-failover/internal/audit"
	"telephony-failover/internal/failover"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"event", "ev"},
	Short:   "List and inspect failover events",
	RunE:    runEventsList,
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failover events, newest first",
	Args:  cobra.NoArgs,
	RunE:  runEventsList,
}

var eventsGetCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show one failover event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ev, err := a.Store.GetEvent(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ev)
		})
	},
}

var (
	eventsStatus string
	eventsSource string
	eventsLimit  int
)

var approveCmd = &cobra.Command{
	Use:   "approve <event-id>",
	Short: "Approve a pending failover event and wait for its execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			actor := cliActor()
			ev, err := a.Orchestrator.Approve(ctx, args[0], actor.ID)
			if err != nil {
				return err
			}
			logAudit(cmd, a.Audit.LogEventAction(ctx, audit.EventTypeApprove, actor, ev.ID, ev.SourceAccountID, "resulting status "+string(ev.Status)))

			a.Orchestrator.Wait()
			final, err := a.Store.GetEvent(ctx, ev.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), final)
		})
	},
}

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <event-id>",
	Short: "Cancel a pending failover event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			actor := cliActor()
			ev, err := a.Orchestrator.Cancel(ctx, args[0], actor.ID, cancelReason)
			if err != nil {
				return err
			}
			logAudit(cmd, a.Audit.LogEventAction(ctx, audit.EventTypeCancel, actor, ev.ID, ev.SourceAccountID, ev.Notes))
			return printJSON(cmd.OutOrStdout(), ev)
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <event-id>",
	Short: "Return the agents moved by a completed event to their original numbers",
	Long: `Rollback rebinds every agent moved by the event to its original account
and number and releases the backup numbers. Platform registrations and
provider webhooks are left as they are.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			actor := cliActor()
			report, err := a.Orchestrator.Rollback(ctx, args[0], actor.ID)
			if err != nil {
				return err
			}
			msg := strconv.Itoa(len(report.Restored)) + " agents restored"
			logAudit(cmd, a.Audit.LogEventAction(ctx, audit.EventTypeRollback, actor, report.Event.ID, report.Event.SourceAccountID, msg))
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsGetCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(rollbackCmd)

	eventsCmd.PersistentFlags().StringVar(&eventsStatus, "status", "", "Only events in this status")
	eventsCmd.PersistentFlags().StringVar(&eventsSource, "source", "", "Only events for this source account")
	eventsCmd.PersistentFlags().IntVar(&eventsLimit, "limit", 50, "Maximum number of events (0 for all)")

	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Why the event is cancelled")
}

func eventFilter() (failover.EventFilter, error) {
	f := failover.EventFilter{
		Status:          failover.Status(eventsStatus),
		SourceAccountID: eventsSource,
		Limit:           eventsLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("unknown status %q", eventsStatus)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("--limit must not be negative")
	}
	return f, nil
}

func runEventsList(cmd *cobra.Command, args []string) error {
	f, err := eventFilter()
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		events, err := a.Store.ListEvents(ctx, f)
		if err != nil {
			return err
		}
		if events == nil {
			events = []failover.Event{}
		}
		return printJSON(cmd.OutOrStdout(), events)
	})
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
)

type outcomeReader interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// console is what the commands operate on once connected.
type console struct {
	svc      *settlement.Service
	outcomes outcomeReader
	minAge   time.Duration
}

func markPaidCmd(get func() *console) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark-paid [order-id]",
		Short: "Mark an order as paid and apply its upgrade",
		Long: `Settle an order by hand, e.g. after a bank transfer arrived.
Only orders in status none or pending can be marked. Marking an already
paid order is a no-op and does not extend the upgrade again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			listingType, _ := cmd.Flags().GetString("listing-type")
			actor, _ := cmd.Flags().GetString("actor")

			res, err := get().svc.Console.MarkPaid(cmd.Context(), args[0], listingType, actor)
			if err != nil {
				return err
			}
			return printResult(cmd, "marked as paid", "was already paid", res)
		},
	}
	cmd.Flags().StringP("listing-type", "t", "", "Tier to apply (defaults to the tier chosen at checkout)")
	return cmd
}

func cancelCmd(get func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel an unpaid order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			res, err := get().svc.Console.Cancel(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return printResult(cmd, "cancelled", "was already cancelled", res)
		},
	}
}

func showCmd(get func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "show [order-id]",
		Short: "Show the payment state of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := get().svc.Console.Show(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), orderJSON(order))
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Order:       %s\n", order.Ref)
			fmt.Fprintf(w, "User:        %d\n", order.UserID)
			fmt.Fprintf(w, "Status:      %s\n", order.Status)
			fmt.Fprintf(w, "Method:      %s\n", valueOr(string(order.Method), "-"))
			fmt.Fprintf(w, "Amount:      %s\n", formatAmount(order.Amount))
			fmt.Fprintf(w, "Token:       %s\n", valueOr(order.Token, "-"))
			fmt.Fprintf(w, "Tier:        %s (%d days)\n", valueOr(string(order.Entitlement.Tier), "-"), order.Entitlement.Days)
			fmt.Fprintf(w, "Applied at:  %s\n", formatTime(order.EntitlementAppliedAt))
			fmt.Fprintf(w, "Updated at:  %s\n", formatTime(order.UpdatedAt))
			return nil
		},
	}
}

func pendingCmd(get func() *console) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List orders waiting for payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			orders, err := get().svc.Console.Pending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				out := make([]map[string]any, 0, len(orders))
				for i := range orders {
					out = append(out, orderJSON(&orders[i]))
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			if len(orders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending orders")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tMETHOD\tAMOUNT\tTIER\tTOKEN\tUPDATED")
			for _, o := range orders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.Ref, valueOr(string(o.Method), "-"), formatAmount(o.Amount),
					valueOr(string(o.Entitlement.Tier), "-"), valueOr(o.Token, "-"), formatTime(o.UpdatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 100, "Maximum orders to list")
	return cmd
}

func sweepCmd(get func() *console) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-query the gateway for stale pending orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			con := get()
			minAge, _ := cmd.Flags().GetDuration("min-age")
			if minAge <= 0 {
				minAge = con.minAge
			}
			limit, _ := cmd.Flags().GetInt("limit")

			report, err := con.svc.Sweeper.Run(cmd.Context(), minAge, limit)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d settled=%d cancelled=%d failed=%d reconcile=%d skipped=%d errors=%d\n",
				report.Checked, report.Settled, report.Cancelled, report.Failed, report.Reconcile, report.Skipped, report.Errors)
			return nil
		},
	}
	cmd.Flags().Duration("min-age", 0, "Only orders pending longer than this (defaults to SWEEP_MIN_AGE_MINUTES)")
	cmd.Flags().IntP("limit", "n", 200, "Maximum orders to check")
	return cmd
}

func outcomesCmd(get func() *console) *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes",
		Short: "Show callback outcome counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			con := get()
			if con.outcomes == nil {
				return fmt.Errorf("outcome counters unavailable")
			}
			counts, err := con.outcomes.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading outcome counters: %w", err)
			}
			if asJSON(cmd) {
				out := make(map[string]int64, len(settlement.AllOutcomes))
				for _, o := range settlement.AllOutcomes {
					out[string(o)] = counts[string(o)]
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			for _, o := range settlement.AllOutcomes {
				fmt.Fprintf(cmd.OutOrStdout(), "%-15s %d\n", o, counts[string(o)])
			}
			return nil
		},
	}
}

func printResult(cmd *cobra.Command, changed, unchanged string, res *settlement.ConsoleResult) error {
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"changed": res.Changed, "order": orderJSON(res.Order)})
	}
	msg := unchanged
	if res.Changed {
		msg = changed
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (status=%s tier=%s)\n", res.Order.Ref, msg, res.Order.Status, valueOr(string(res.Order.Entitlement.Tier), "-"))
	return nil
}

func orderJSON(o *settlement.Order) map[string]any {
	out := map[string]any{
		"order_id": o.Ref.CorrelationID(),
		"user_id":  o.UserID,
		"status":   string(o.Status),
		"method":   string(o.Method),
		"amount":   o.Amount,
		"tier":     string(o.Entitlement.Tier),
		"days":     o.Entitlement.Days,
	}
	if o.Token != "" {
		out["token"] = o.Token
	}
	if o.EntitlementAppliedAt != nil {
		out["entitlement_applied_at"] = o.EntitlementAppliedAt
	}
	if o.UpdatedAt != nil {
		out["updated_at"] = o.UpdatedAt
	}
	return out
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatAmount renders minor units as CHF.
func formatAmount(minor int64) string {
	return fmt.Sprintf("CHF %d.%02d", minor/100, minor%100)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func valueOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
)

func parseDateFlag(s string) (time.Time, error) {
	if s == "" || s == "today" {
		return generic.Today(), nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// generate
// =============================================================================

func generateCmd(configPath *string) *cobra.Command {
	var (
		tenant, scheduleType, date, operator string
		asJSON                               bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the payment batch for a tenant, schedule type and date",
		Long: `Generate the payment batch for (tenant, schedule type, date).

The batch is created uncompleted. Generating a key that already has a
batch fails; use "complete" to confirm a generated batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := payout.ParseScheduleType(scheduleType)
			if err != nil {
				return err
			}
			day, err := parseDateFlag(date)
			if err != nil {
				return err
			}

			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			gen := payout.NewGenerator(e.store, e.ids,
				payout.WithGeneratorLogger(e.logger),
				payout.WithConcurrency(e.cfg.Generator.Concurrency))
			result, err := gen.GenerateBatch(cmd.Context(), payout.TenantID(tenant), st, day, operator)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVarP(&scheduleType, "schedule-type", "s", "", "bi-weekly or monthly")
	cmd.Flags().StringVarP(&date, "date", "d", "today", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator id recorded on the batch")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("schedule-type")
	return cmd
}

func printResult(w io.Writer, r *payout.BatchResult) {
	fmt.Fprintf(w, "batch %s (%s) %s window %s\n", r.Batch.ID, r.Batch.ReferenceCode, r.Batch.Key(), r.Window)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WRITER\tPAYMENT\tLINES\tTOTAL")
	for _, p := range r.Payments {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.WriterID, p.ReferenceCode, len(p.LineItems), p.TotalAmount)
	}
	tw.Flush()
	fmt.Fprintf(w, "total %s, %d payments, %d skipped (no wallet), %d zero earnings\n",
		r.TotalAmount, len(r.Payments), r.SkippedCount(), len(r.ZeroEarningWriters))
	for _, s := range r.Shortfalls {
		fmt.Fprintf(w, "shortfall: writer %s raw total %s (short %s)\n", s.WriterID, s.RawTotal, s.Amount)
	}
}

// =============================================================================
// complete / payment-status
// =============================================================================

func completeCmd(configPath *string) *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "complete [batch-id]",
		Short: "Mark a generated batch completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			batch, err := payout.NewConfirmer(e.store, e.logger).CompleteBatch(cmd.Context(), payout.BatchID(args[0]), operator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s completed at %s\n", batch.ID, batch.CompletedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator id recorded on completion")
	return cmd
}

func paymentStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "payment-status [payment-id] [pending|paid|failed]",
		Short: "Change the status of a scheduled payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := payout.NewConfirmer(e.store, e.logger).SetPaymentStatus(cmd.Context(), payout.PaymentID(args[0]), payout.PaymentStatus(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment %s (writer %s) is now %s\n", p.ID, p.WriterID, p.Status)
			return nil
		},
	}
}

// =============================================================================
// breakdown
// =============================================================================

func breakdownCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "breakdown [batch-id]",
		Short: "Print a batch breakdown, cross-checked against the sources",
		Long: `Print a batch breakdown.

Tips and fines are recomputed from the sources over the batch's settlement
window. Differences from the recorded line items are printed and make the
command exit non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := payout.NewReporter(e.store, e.logger).BreakdownByID(cmd.Context(), payout.BatchID(args[0]))
			var mismatch *payout.DiscrepancyError
			if err != nil && !errors.As(err, &mismatch) {
				return err
			}

			if asJSON {
				if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
					return werr
				}
			} else {
				printBreakdown(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printBreakdown(w io.Writer, b *payout.BatchBreakdown) {
	state := "open"
	if b.Completed {
		state = "completed"
	}
	fmt.Fprintf(w, "batch %s (%s) %s/%s %s, %s, window %s\n",
		b.BatchID, b.ReferenceCode, b.TenantID, b.ScheduleType, generic.FormatDate(b.ScheduledDate), state, b.Window)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WRITER\tSTATUS\tORDERS\tTIPS\tBONUSES\tFINES\tTOTAL")
	for _, wb := range b.PerWriter {
		fmt.Fprintf(tw, "%s\t%s\t%s (%d)\t%s\t%s\t%s\t%s\n",
			wb.WriterID, wb.Status, wb.OrdersTotal, len(wb.OrderLines), wb.TipsTotal, wb.BonusesTotal, wb.FinesTotal, wb.TotalAmount)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d writers, total %s\n", b.WriterCount, b.TotalAmount)
	for _, d := range b.Discrepancies() {
		fmt.Fprintf(w, "DISCREPANCY %s\n", d)
	}
}

// =============================================================================
// batches
// =============================================================================

func batchesCmd(configPath *string) *cobra.Command {
	var tenant, scheduleType, from, to string
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List batches by tenant, schedule type and scheduled date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := payout.BatchFilter{Tenant: payout.TenantID(tenant)}
			if scheduleType != "" {
				st, err := payout.ParseScheduleType(scheduleType)
				if err != nil {
					return err
				}
				filter.ScheduleType = st
			}
			var err error
			if from != "" {
				if filter.From, err = parseDateFlag(from); err != nil {
					return err
				}
			}
			if to != "" {
				if filter.To, err = parseDateFlag(to); err != nil {
					return err
				}
			}

			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			batches, err := e.store.ListBatches(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tREFERENCE\tTENANT\tTYPE\tDATE\tCOMPLETED")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
					b.ID, b.ReferenceCode, b.TenantID, b.ScheduleType, generic.FormatDate(b.ScheduledDate), b.Completed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVarP(&scheduleType, "schedule-type", "s", "", "bi-weekly or monthly")
	cmd.Flags().StringVar(&from, "from", "", "first scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last scheduled date (YYYY-MM-DD)")
	return cmd
}

// =============================================================================
// next-date
// =============================================================================

func nextDateCmd() *cobra.Command {
	var preference, scheduleType, from string
	cmd := &cobra.Command{
		Use:   "next-date",
		Short: "Compute the next payment date for a date preference",
		Example: `  payoutd next-date --schedule-type bi-weekly --preference "5,20" --from 2025-03-22
  payoutd next-date --schedule-type monthly --preference 31 --from 2025-02-10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseDateFlag(from)
			if err != nil {
				return err
			}
			// Unknown schedule types are treated as monthly, like stored preferences.
			st := payout.ScheduleType(scheduleType)
			anchors, defaulted := payout.ParseAnchors(preference, st)
			next := payout.NextPaymentDate(preference, st, ref)

			fmt.Fprintln(cmd.OutOrStdout(), generic.FormatDate(next))
			if defaulted {
				fmt.Fprintf(cmd.ErrOrStderr(), "preference %q not usable, default anchors %v applied\n", preference, anchors)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&preference, "preference", "p", "", "day-of-month anchors, e.g. \"1,15\"")
	cmd.Flags().StringVarP(&scheduleType, "schedule-type", "s", string(payout.ScheduleMonthly), "bi-weekly or monthly")
	cmd.Flags().StringVar(&from, "from", "today", "reference date (YYYY-MM-DD)")
	return cmd
}

// =============================================================================
// migrate
// =============================================================================

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store migrates it.
			e, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s\n", e.cfg.Database.Path)
			return nil
		},
	}
}

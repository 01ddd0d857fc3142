package main

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/services/scheduler"
)

func (cli *commandLine) generateInvoicesCmd() *cobra.Command {
	var (
		month, issueDate string
		studentIDs       []string
	)
	cmd := &cobra.Command{
		Use:   "generate-invoices",
		Short: "Generate draft invoices for a month (the previous one by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := billing.GenerateRequest{StudentIDs: studentIDs}
			if month == "" {
				req.PeriodStart, req.PeriodEnd = scheduler.PreviousMonth(core.NowFunc(), cli.conf.Scheduler.Location())
			} else {
				m, err := time.Parse("2006-01", month)
				if err != nil {
					return errors.Errorf("invalid month %q, want YYYY-MM", month)
				}
				req.PeriodStart = core.DateOf(m)
				req.PeriodEnd = core.DateOf(m.AddDate(0, 1, -1))
			}
			if issueDate != "" {
				d, err := core.ParseDate(issueDate)
				if err != nil {
					return errors.Wrap(err, "parsing issue date")
				}
				req.IssueDate = d
			}

			svcs, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			if err = req.Validate(svcs.Validate); err != nil {
				return describeError(err, svcs.Translator)
			}
			res, err := svcs.Invoices.Generate(cmd.Context(), req)
			if err != nil {
				return errors.Wrap(err, "generating invoices")
			}

			cmd.Printf("%s - %s: %d invoice(s) generated\n", req.PeriodStart, req.PeriodEnd, len(res.Invoices))
			for _, inv := range res.Invoices {
				cmd.Printf("  %s  %s  %s\n", inv.Number, inv.StudentID, inv.Total.StringFixed(2))
			}
			skipped := make([]string, 0, len(res.Skipped))
			for id := range res.Skipped {
				skipped = append(skipped, id)
			}
			sort.Strings(skipped)
			for _, id := range skipped {
				cmd.Printf("  skipped %s: %s\n", id, res.Skipped[id])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "billed month, YYYY-MM")
	cmd.Flags().StringVar(&issueDate, "issue-date", "", "issue date, YYYY-MM-DD (today by default)")
	cmd.Flags().StringSliceVar(&studentIDs, "student", nil, "only bill this student, repeatable")
	return cmd
}

func (cli *commandLine) applyCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-credits",
		Short: "Apply every student's outstanding ledger entries to their open invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svcs.Ledger.ApplyAllOutstanding(cmd.Context())
			cmd.Printf("%d application(s) made\n", n)
			return errors.Wrap(err, "applying outstanding entries")
		},
	}
}

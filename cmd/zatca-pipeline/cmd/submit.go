package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	sweepCompanyID uint64
)

var submitCmd = &cobra.Command{
	Use:   "submit [uuid]",
	Short: "Submit a compliance record to the authority",
	Long: `Submit sends a stored record down its channel's path: clearance for
standard (B2B) invoices, reporting for simplified (B2C) ones. The
record is validated locally first and B2C records past their 24 hour
window are marked missed without touching the authority.

Examples:
  zatca-pipeline submit 8d487816-70b8-47ad-9a35-de31b09d64d6`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Report all due simplified invoices for a company",
	Long: `Sweep finds the company's simplified invoices still inside their
reporting window and reports them in one pass. Records whose window
closed are marked DEADLINE_MISSED and listed as exceptions.

Examples:
  zatca-pipeline sweep --company 1`,
	RunE: runSweep,
}

var statusCmd = &cobra.Command{
	Use:   "status [uuid]",
	Short: "Ask the authority for the current state of a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statusCmd)

	sweepCmd.Flags().Uint64Var(&sweepCompanyID, "company", 0, "Company ID (required)")
	sweepCmd.MarkFlagRequired("company")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	records, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rec, err := records.ByUUID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("no record with uuid %s: %w", args[0], err)
	}
	cfg, err := configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		return err
	}

	printVerbose("submitting %s via %s\n", rec.UUID, rec.Channel)

	result := buildSubmitter(records).Submit(ctx, rec, cfg)

	if outputFormat == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Printf("UUID:   %s\n", result.UUID)
		fmt.Printf("Status: %s\n", result.Status)
		if result.SubmissionID != "" {
			fmt.Printf("ID:     %s\n", result.SubmissionID)
		}
		for _, e := range result.ValidationErrors {
			fmt.Printf("  ✗ %s\n", e)
		}
	}

	if !result.Success {
		return fmt.Errorf("submission failed: %s", result.Error)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	records, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg, err := configs.ByCompany(ctx, sweepCompanyID)
	if err != nil {
		return err
	}

	sweep, err := buildSubmitter(records).SweepReportable(ctx, sweepCompanyID, cfg)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(sweep)
	}

	for _, res := range sweep.Submitted {
		mark := "✓"
		if !res.Success {
			mark = "✗"
		}
		fmt.Printf("%s %s  %s\n", mark, res.UUID, res.Status)
	}
	for _, exc := range sweep.Exceptions {
		fmt.Printf("! %s  %s (deadline %s)\n", exc.UUID, exc.Status, exc.DeadlineAt)
	}
	fmt.Printf("%d submitted, %d exceptions\n", len(sweep.Submitted), len(sweep.Exceptions))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	records, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rec, err := records.ByUUID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("no record with uuid %s: %w", args[0], err)
	}
	cfg, err := configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		return err
	}

	lookup, err := buildSubmitter(records).LookupStatus(ctx, rec, cfg)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(lookup)
	}
	fmt.Printf("UUID:   %s\n", lookup.UUID)
	fmt.Printf("Status: %s\n", lookup.Status)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [uuid]",
	Short: "Re-validate a stored compliance record",
	Long: `Verify re-runs the validation phases against a stored record: XML
structure, ZATCA content rules, and on phase 2 the signature, embedded
hash and QR payload.

Examples:
  zatca-pipeline verify 8d487816-70b8-47ad-9a35-de31b09d64d6`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	records, configs, err := stores()
	if err != nil {
		return err
	}
	pipe := buildPipeline(records)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := pipe.Record(ctx, args[0])
	if err != nil {
		return fmt.Errorf("no record with uuid %s: %w", args[0], err)
	}
	cfg, err := configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		return err
	}

	report, err := pipe.Verify(ctx, rec.UUID, cfg)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(report)
	}

	for _, phase := range report.Phases {
		mark := "✓"
		if phase.Skipped {
			mark = "-"
		} else if !phase.Passed {
			mark = "✗"
		}
		fmt.Printf("%s %s\n", mark, phase.Name)
		for _, e := range phase.Errors {
			fmt.Printf("    %s\n", e)
		}
	}

	if !report.Valid {
		return fmt.Errorf("record %s failed validation", rec.UUID)
	}
	fmt.Printf("record %s is valid\n", rec.UUID)
	return nil
}

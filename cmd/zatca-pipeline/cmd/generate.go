package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

var generateCompanyID uint64

var generateCmd = &cobra.Command{
	Use:   "generate [file]",
	Short: "Generate a compliance record from a source invoice",
	Long: `Generate reads a source invoice (JSON) and runs it through the full
pipeline: snapshot extraction, hash chaining, UBL 2.1 rendering and,
for phase 2 companies, signing and QR encoding.

The record lands on the company's hash chain even when validation
fails, so the chain sequence stays gapless; check the record status
before submitting.

Examples:
  zatca-pipeline generate invoice.json --company 1
  cat invoice.json | zatca-pipeline generate - --company 1`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().Uint64Var(&generateCompanyID, "company", 0, "Company ID (required)")
	generateCmd.MarkFlagRequired("company")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = os.ReadFile("/dev/stdin")
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("cannot read source invoice: %w", err)
	}

	var inv model.SourceInvoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("source invoice is not valid JSON: %w", err)
	}

	records, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := configs.ByCompany(ctx, generateCompanyID)
	if err != nil {
		return err
	}

	printVerbose("generating invoice %s for company %d (%s)\n", inv.ID, cfg.CompanyID, cfg.Phase)

	result, err := buildPipeline(records).Generate(ctx, inv, cfg)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	rec := result.Record
	fmt.Printf("UUID:     %s\n", rec.UUID)
	fmt.Printf("Number:   %s\n", rec.Number)
	fmt.Printf("Sequence: %d\n", rec.ChainSequence)
	fmt.Printf("Channel:  %s\n", rec.Channel)
	fmt.Printf("Hash:     %s\n", rec.InvoiceHash)
	fmt.Printf("Status:   %s\n", rec.Status)
	if !result.Report.Valid {
		for _, e := range result.Report.AllErrors() {
			fmt.Printf("  ✗ %s\n", e)
		}
	}
	for _, w := range result.Report.AllWarnings() {
		fmt.Printf("  ⚠ %s\n", w)
	}
	return nil
}

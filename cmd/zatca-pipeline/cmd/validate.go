package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/zatca-pipeline/internal/compliance"
)

var validateCompanyID uint64

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a UBL invoice document without persisting it",
	Long: `Validate runs a UBL 2.1 XML document through the validation phases
using the company's configuration, without touching the hash chain or the
database. Use "-" to read the document from stdin.

Structure and content rules always run; the signature and QR phases only
apply when the company operates in phase 2.

Examples:
  zatca-pipeline validate invoice.xml --company 1
  cat invoice.xml | zatca-pipeline validate - --company 1 -f json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Uint64Var(&validateCompanyID, "company", 0, "company ID (required)")
	_ = validateCmd.MarkFlagRequired("company")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if path == "-" {
		path = "/dev/stdin"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	_, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := configs.ByCompany(ctx, validateCompanyID)
	if err != nil {
		return fmt.Errorf("no configuration for company %d: %w", validateCompanyID, err)
	}

	validator := compliance.NewValidator(schemaPath, nil)
	report := validator.Validate(compliance.Input{
		XML:    string(data),
		Config: cfg,
	})

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
		for _, w := range phase.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}

	if !report.Valid {
		return fmt.Errorf("document failed validation")
	}
	fmt.Println("document is valid")
	return nil
}

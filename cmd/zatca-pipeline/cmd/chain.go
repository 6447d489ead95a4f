package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	chainCompanyID uint64
	chainList      bool
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect and validate a company's hash chain",
	Long: `Chain walks the company's compliance records in sequence order and
checks every link: gapless sequences and each record's previous-hash
matching its predecessor's invoice hash.

Examples:
  zatca-pipeline chain --company 1
  zatca-pipeline chain --company 1 --list`,
	RunE: runChain,
}

func init() {
	rootCmd.AddCommand(chainCmd)

	chainCmd.Flags().Uint64Var(&chainCompanyID, "company", 0, "Company ID (required)")
	chainCmd.Flags().BoolVar(&chainList, "list", false, "List every record in the chain")
	chainCmd.MarkFlagRequired("company")
}

func runChain(cmd *cobra.Command, args []string) error {
	records, _, err := stores()
	if err != nil {
		return err
	}
	pipe := buildPipeline(records)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	status, err := pipe.ValidateChain(ctx, chainCompanyID)
	if err != nil {
		return err
	}

	if chainList {
		chain, err := pipe.Chain(ctx, chainCompanyID)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(map[string]any{"status": status, "records": chain})
		}
		for _, rec := range chain {
			fmt.Printf("%4d  %s  %s  %s\n", rec.ChainSequence, rec.UUID, rec.Status, rec.InvoiceHash)
		}
	}

	if outputFormat == "json" && !chainList {
		return printJSON(status)
	}

	if status.Intact {
		fmt.Printf("chain for company %d is intact (%d records)\n", status.CompanyID, status.Length)
		return nil
	}
	return fmt.Errorf("chain for company %d is broken: %s", status.CompanyID, status.Error)
}

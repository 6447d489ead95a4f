package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

var (
	cfgCompanyID   uint64
	cfgCompanyName string
	cfgTaxNumber   string
	cfgBranchCode  string
	cfgDeviceID    string
	cfgPhase       string
	cfgEnvironment string
	cfgCurrency    string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage company configurations",
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a company configuration",
	Long: `Set stores the company's compliance settings: identity, branch and
device codes used in invoice numbers, the active phase and the target
environment.

Examples:
  zatca-pipeline config set --company 1 --name "Najd Trading Co" \
    --tax-number 310122393500003 --branch RYD01 --device POS7 --phase phase2`,
	RunE: runConfigSet,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a company configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)

	configSetCmd.Flags().Uint64Var(&cfgCompanyID, "company", 0, "Company ID (required)")
	configSetCmd.Flags().StringVar(&cfgCompanyName, "name", "", "Registered company name")
	configSetCmd.Flags().StringVar(&cfgTaxNumber, "tax-number", "", "15-digit VAT registration number")
	configSetCmd.Flags().StringVar(&cfgBranchCode, "branch", "", "Branch code for invoice numbering")
	configSetCmd.Flags().StringVar(&cfgDeviceID, "device", "", "Device ID for invoice numbering")
	configSetCmd.Flags().StringVar(&cfgPhase, "phase", model.Phase1, "Compliance phase (phase1, phase2)")
	configSetCmd.Flags().StringVar(&cfgEnvironment, "environment", "sandbox", "Target environment (sandbox, production)")
	configSetCmd.Flags().StringVar(&cfgCurrency, "currency", "SAR", "Invoice currency")
	configSetCmd.MarkFlagRequired("company")

	configShowCmd.Flags().Uint64Var(&cfgCompanyID, "company", 0, "Company ID (required)")
	configShowCmd.MarkFlagRequired("company")
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if cfgPhase != model.Phase1 && cfgPhase != model.Phase2 {
		return fmt.Errorf("phase must be %s or %s", model.Phase1, model.Phase2)
	}

	_, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &model.Configuration{
		CompanyID:   cfgCompanyID,
		CompanyName: cfgCompanyName,
		TaxNumber:   cfgTaxNumber,
		BranchCode:  cfgBranchCode,
		DeviceID:    cfgDeviceID,
		Phase:       cfgPhase,
		Environment: cfgEnvironment,
		Currency:    cfgCurrency,
	}
	if err := configs.Save(ctx, cfg); err != nil {
		return err
	}

	fmt.Printf("configuration saved for company %d\n", cfgCompanyID)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	_, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := configs.ByCompany(ctx, cfgCompanyID)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cfg)
	}

	fmt.Printf("Company:     %d (%s)\n", cfg.CompanyID, cfg.CompanyName)
	fmt.Printf("Tax number:  %s\n", cfg.TaxNumber)
	fmt.Printf("Numbering:   %s / %s\n", cfg.BranchCode, cfg.DeviceID)
	fmt.Printf("Phase:       %s\n", cfg.Phase)
	fmt.Printf("Environment: %s\n", cfg.Environment)
	fmt.Printf("Currency:    %s\n", cfg.Currency)
	if cfg.HasCSID() {
		fmt.Printf("CSID:        %s", cfg.CSIDStatus)
		if cfg.CSIDIssuedAt != nil {
			fmt.Printf(" (issued %s)", cfg.CSIDIssuedAt.Format("2006-01-02"))
		}
		fmt.Println()
	} else {
		fmt.Println("CSID:        not onboarded")
	}
	return nil
}

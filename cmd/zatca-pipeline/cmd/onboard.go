package cmd

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/zatca-pipeline/internal/credentials"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/signing"
)

var (
	onboardCompanyID uint64
	onboardOTP       string
	onboardKeyDir    string
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Onboard a company with the authority (keys, CSR, CSID)",
	Long: `Onboard runs the two-step device registration: it generates an ECDSA
key pair and a certificate signing request, exchanges the CSR plus the
portal OTP for a compliance CSID, then trades that for production
credentials. The issued credentials are stored on the company
configuration and stay valid for one year; they are never refreshed
automatically.

Examples:
  zatca-pipeline onboard --company 1 --otp 123456 --keys ./keys`,
	RunE: runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)

	onboardCmd.Flags().Uint64Var(&onboardCompanyID, "company", 0, "Company ID (required)")
	onboardCmd.Flags().StringVar(&onboardOTP, "otp", "", "One-time password from the authority portal (required)")
	onboardCmd.Flags().StringVar(&onboardKeyDir, "keys", "keys", "Directory for generated key material")
	onboardCmd.MarkFlagRequired("company")
	onboardCmd.MarkFlagRequired("otp")
}

func runOnboard(cmd *cobra.Command, args []string) error {
	_, configs, err := stores()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), credentials.DefaultOnboardingTimeout)
	defer cancel()

	cfg, err := configs.ByCompany(ctx, onboardCompanyID)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("company-%d", cfg.CompanyID)
	keyPath, err := signing.GenerateKeyPair(onboardKeyDir, name)
	if err != nil {
		return err
	}
	printVerbose("key pair written to %s\n", keyPath)

	csr, err := signing.GenerateCSR(keyPath, signing.CSRSubject{
		CommonName:   cfg.CompanyName,
		Organization: cfg.CompanyName,
		SerialNumber: cfg.TaxNumber,
	})
	if err != nil {
		return err
	}

	var clientOpts []credentials.CSIDOption
	if authorityURL != "" {
		clientOpts = append(clientOpts, credentials.WithBaseURL(authorityURL))
	} else if cfg.Environment == "production" {
		clientOpts = append(clientOpts, credentials.WithBaseURL(credentials.ProductionBaseURL))
	}
	client := credentials.NewCSIDClient(clientOpts...)

	fmt.Println("requesting compliance CSID...")
	compliance, err := client.RequestComplianceCSID(ctx, csr, onboardOTP)
	if err != nil {
		return err
	}
	printVerbose("compliance request %s accepted\n", compliance.RequestID)

	fmt.Println("requesting production CSID...")
	production, err := client.RequestProductionCSID(ctx, compliance.RequestID, credentials.Credentials{
		BinaryToken: compliance.BinaryToken,
		Secret:      compliance.Secret,
	})
	if err != nil {
		return err
	}

	cfg.PrivateKeyPath = keyPath

	// The binary token carries the issued certificate in DER form;
	// keep a copy on disk for document signing
	if der, decErr := base64.StdEncoding.DecodeString(production.BinaryToken); decErr == nil {
		certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
		if certPath, impErr := signing.ImportCertificate(onboardKeyDir, name, certPEM); impErr == nil {
			cfg.CertificatePath = certPath
		} else {
			printVerbose("issued token is not an importable certificate: %v\n", impErr)
		}
	}

	if err := configs.Save(ctx, cfg); err != nil {
		return err
	}

	issuedAt := time.Now().UTC()
	if err := configs.StoreCSID(ctx, cfg.CompanyID,
		production.BinaryToken, production.Secret, production.RequestID, issuedAt); err != nil {
		return err
	}

	fmt.Printf("company %d onboarded; credentials valid until %s\n",
		cfg.CompanyID, issuedAt.Add(model.CSIDLifetime).Format("2006-01-02"))
	return nil
}

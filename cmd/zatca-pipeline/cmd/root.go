package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/zatca-pipeline/internal/archive"
	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/credentials"
	"github.com/rezonia/zatca-pipeline/internal/pipeline"
	"github.com/rezonia/zatca-pipeline/internal/store"
	"github.com/rezonia/zatca-pipeline/internal/submission"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	outputFormat string
	dbPath       string
	schemaPath   string
	archiveDir   string
	authorityURL string
)

var rootCmd = &cobra.Command{
	Use:   "zatca-pipeline",
	Short: "Generate, sign and submit ZATCA-compliant e-invoices",
	Long: `zatca-pipeline turns source invoices into chain-linked, UBL 2.1
compliance records for Saudi Arabia's e-invoicing regulation.

Supports:
  - Phase 1 (generation) and phase 2 (integration) documents
  - SHA-256 hash chaining per company with tamper detection
  - ECDSA document signing and TLV QR codes
  - Clearance (B2B) and reporting (B2C) submission to the authority

Examples:
  # Configure a company
  zatca-pipeline config set --company 1 --name "Najd Trading Co" --tax-number 310122393500003

  # Generate a compliance record from a source invoice
  zatca-pipeline generate invoice.json --company 1

  # Submit a record to the authority
  zatca-pipeline submit 8d487816-70b8-47ad-9a35-de31b09d64d6

  # Validate a company's full hash chain
  zatca-pipeline chain --company 1`,
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (env: ZATCA_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schemas", "", "UBL schema directory (env: ZATCA_SCHEMA_DIR)")
	rootCmd.PersistentFlags().StringVar(&archiveDir, "archive", "", "Archive directory for generated documents (env: ZATCA_ARCHIVE_DIR)")
	rootCmd.PersistentFlags().StringVar(&authorityURL, "authority-url", "", "Authority API base URL (env: ZATCA_AUTHORITY_URL)")

	// Load from environment variables if not set via flags
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// A .env file is optional; flags and real env vars win
	_ = godotenv.Load()

	if dbPath == "" {
		dbPath = os.Getenv("ZATCA_DB_PATH")
	}
	if dbPath == "" {
		dbPath = "zatca.db"
	}
	if schemaPath == "" {
		schemaPath = os.Getenv("ZATCA_SCHEMA_DIR")
	}
	if schemaPath == "" {
		schemaPath = "schemas"
	}
	if archiveDir == "" {
		archiveDir = os.Getenv("ZATCA_ARCHIVE_DIR")
	}
	if authorityURL == "" {
		authorityURL = os.Getenv("ZATCA_AUTHORITY_URL")
	}
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// stores opens the database and returns both repositories
func stores() (*store.RecordRepository, *store.ConfigRepository, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRecordRepository(db), store.NewConfigRepository(db), nil
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func buildPipeline(records *store.RecordRepository) *pipeline.Pipeline {
	validator := compliance.NewValidator(schemaPath, nil)
	opts := []pipeline.Option{pipeline.WithLogger(newLogger())}
	if archiveDir != "" {
		opts = append(opts, pipeline.WithArchive(archive.New(archiveDir)))
	}
	return pipeline.New(records, validator, opts...)
}

func buildSubmitter(records *store.RecordRepository) *submission.Client {
	validator := compliance.NewValidator(schemaPath, nil)
	opts := []submission.Option{submission.WithLogger(newLogger())}
	if archiveDir != "" {
		opts = append(opts, submission.WithArchive(archive.New(archiveDir)))
	}
	if authorityURL != "" {
		opts = append(opts, submission.WithBaseURL(authorityURL))
	}
	return submission.NewClient(credentials.NewStoredProvider(), validator, records, opts...)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

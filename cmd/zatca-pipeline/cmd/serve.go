package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/zatca-pipeline/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server exposing the pipeline.

The API provides endpoints for:
  - PUT  /api/v1/companies/:id/config          - Upsert company configuration
  - POST /api/v1/companies/:id/invoices        - Generate a compliance record
  - GET  /api/v1/companies/:id/chain           - List the hash chain
  - GET  /api/v1/companies/:id/chain/validate  - Validate the hash chain
  - POST /api/v1/companies/:id/sweep           - Report due simplified invoices
  - GET  /api/v1/invoices/:uuid                - Fetch a record
  - GET  /api/v1/invoices/:uuid/qr             - Render the QR code
  - POST /api/v1/invoices/:uuid/verify         - Re-validate a record
  - POST /api/v1/invoices/:uuid/submit         - Submit to the authority
  - GET  /api/v1/invoices/:uuid/status         - Ask the authority for status
  - GET  /health                               - Health check

Examples:
  # Start server on default port
  zatca-pipeline serve

  # Start on custom port against the sandbox
  zatca-pipeline serve --address :9000

  # Start in debug mode
  zatca-pipeline serve --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", ":8080", "Server listen address")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 5*time.Minute, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	config := &server.Config{
		Address:      serverAddr,
		DatabasePath: dbPath,
		SchemaDir:    schemaPath,
		ArchiveDir:   archiveDir,
		AuthorityURL: authorityURL,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Debug:        serverDebug,
		Logger:       newLogger(),
	}

	srv, err := server.NewServer(config)
	if err != nil {
		return err
	}

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down server...")
		os.Exit(0)
	}()

	fmt.Printf("Starting server on %s\n", serverAddr)
	if authorityURL != "" {
		fmt.Printf("Authority endpoint: %s\n", authorityURL)
	} else {
		fmt.Println("Authority endpoint: sandbox (default)")
	}

	return srv.Run()
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/zatca-pipeline/internal/qrtlv"
)

var (
	qrOutput string
	qrSize   int
)

var qrCmd = &cobra.Command{
	Use:   "qr [uuid]",
	Short: "Render a record's QR code as PNG",
	Long: `QR renders the TLV payload stored on a phase 2 record as a scannable
PNG image.

Examples:
  zatca-pipeline qr 8d487816-70b8-47ad-9a35-de31b09d64d6 -o receipt-qr.png`,
	Args: cobra.ExactArgs(1),
	RunE: runQR,
}

func init() {
	rootCmd.AddCommand(qrCmd)

	qrCmd.Flags().StringVarP(&qrOutput, "output", "o", "qr.png", "Output PNG path")
	qrCmd.Flags().IntVar(&qrSize, "size", qrtlv.DefaultImageSize, "Image edge length in pixels")
}

func runQR(cmd *cobra.Command, args []string) error {
	records, _, err := stores()
	if err != nil {
		return err
	}
	pipe := buildPipeline(records)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	img, err := pipe.QRImage(ctx, args[0], qrSize)
	if err != nil {
		return err
	}
	if err := os.WriteFile(qrOutput, img, 0o644); err != nil {
		return err
	}

	fmt.Printf("QR code written to %s\n", qrOutput)
	return nil
}

package zatcalib_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/zatca-pipeline/pkg/zatcalib"
)

func schemaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range []string{
		"UBL-Invoice-2.1.xsd",
		"UBL-CommonAggregateComponents-2.1.xsd",
		"UBL-CommonBasicComponents-2.1.xsd",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("<xs:schema/>"), 0o644))
	}
	return dir
}

func newProcessor(t *testing.T) *zatcalib.Processor {
	t.Helper()
	proc, err := zatcalib.NewProcessor(zatcalib.Options{
		DatabasePath: ":memory:",
		SchemaDir:    schemaDir(t),
	})
	require.NoError(t, err)
	return proc
}

func testConfiguration() *zatcalib.Configuration {
	return &zatcalib.Configuration{
		CompanyID:   1,
		CompanyName: "Najd Trading Co",
		TaxNumber:   "310122393500003",
		BranchCode:  "RYD01",
		DeviceID:    "POS7",
		Phase:       zatcalib.Phase1,
		Currency:    "SAR",
	}
}

func testInvoice(id string) zatcalib.SourceInvoice {
	return zatcalib.SourceInvoice{
		ID:        id,
		IssueDate: time.Date(2026, 2, 14, 10, 30, 0, 0, time.UTC),
		Buyer:     zatcalib.Party{Name: "Walk-in customer"},
		Lines: []zatcalib.SourceLine{
			{ID: 1, Description: "Coffee beans 1kg", Quantity: decimal.NewFromInt(2),
				UnitPrice: decimal.NewFromInt(85)},
		},
	}
}

func TestNewProcessor(t *testing.T) {
	proc := newProcessor(t)
	require.NotNil(t, proc)
}

func TestProcessorGenerateAndChain(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()
	cfg := testConfiguration()
	require.NoError(t, proc.SaveConfiguration(ctx, cfg))

	first, err := proc.Generate(ctx, testInvoice("INV-1"), cfg)
	require.NoError(t, err)
	assert.Equal(t, zatcalib.StatusPending, first.Record.Status)
	assert.Equal(t, string(zatcalib.ChannelB2C), first.Record.Channel)
	assert.Equal(t, string(zatcalib.FormSimplified), first.Record.Form)

	second, err := proc.Generate(ctx, testInvoice("INV-2"), cfg)
	require.NoError(t, err)
	require.NotNil(t, second.Record.PreviousHash)
	assert.Equal(t, first.Record.InvoiceHash, *second.Record.PreviousHash)

	status, err := proc.ValidateChain(ctx, cfg.CompanyID)
	require.NoError(t, err)
	assert.True(t, status.Intact)
	assert.Equal(t, 2, status.Length)
}

func TestProcessorVerifyAndRecord(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()
	cfg := testConfiguration()
	require.NoError(t, proc.SaveConfiguration(ctx, cfg))

	res, err := proc.Generate(ctx, testInvoice("INV-1"), cfg)
	require.NoError(t, err)

	rec, err := proc.Record(ctx, res.Record.UUID)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", rec.InvoiceID)

	report, err := proc.Verify(ctx, rec.UUID, cfg)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestProcessorConfigurationRoundTrip(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()
	require.NoError(t, proc.SaveConfiguration(ctx, testConfiguration()))

	cfg, err := proc.Configuration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "310122393500003", cfg.TaxNumber)

	_, err = proc.Configuration(ctx, 9)
	require.Error(t, err)
}

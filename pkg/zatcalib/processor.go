package zatcalib

import (
	"context"

	"github.com/rezonia/zatca-pipeline/internal/archive"
	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/credentials"
	"github.com/rezonia/zatca-pipeline/internal/pipeline"
	"github.com/rezonia/zatca-pipeline/internal/store"
	"github.com/rezonia/zatca-pipeline/internal/submission"
)

// Options configures a Processor
type Options struct {
	// DatabasePath is the SQLite database file; ":memory:" works for tests
	DatabasePath string
	// SchemaDir holds the UBL 2.1 schema files used by structure validation
	SchemaDir string
	// ArchiveDir, when set, stores generated and accepted documents on disk
	ArchiveDir string
	// AuthorityURL overrides the submission endpoint; the sandbox is used
	// when empty
	AuthorityURL string
}

// Processor is the high-level entry point: it owns the storage, the
// generation pipeline and the submission client
type Processor struct {
	pipeline  *pipeline.Pipeline
	submitter *submission.Client
	configs   *store.ConfigRepository
}

// NewProcessor opens the database and wires the full pipeline
func NewProcessor(opts Options) (*Processor, error) {
	db, err := store.Open(opts.DatabasePath)
	if err != nil {
		return nil, err
	}
	records := store.NewRecordRepository(db)
	configs := store.NewConfigRepository(db)
	validator := compliance.NewValidator(opts.SchemaDir, nil)

	var arch *archive.Archive
	if opts.ArchiveDir != "" {
		arch = archive.New(opts.ArchiveDir)
	}

	pipeOpts := []pipeline.Option{}
	if arch != nil {
		pipeOpts = append(pipeOpts, pipeline.WithArchive(arch))
	}

	subOpts := []submission.Option{}
	if arch != nil {
		subOpts = append(subOpts, submission.WithArchive(arch))
	}
	if opts.AuthorityURL != "" {
		subOpts = append(subOpts, submission.WithBaseURL(opts.AuthorityURL))
	}

	return &Processor{
		pipeline:  pipeline.New(records, validator, pipeOpts...),
		submitter: submission.NewClient(credentials.NewStoredProvider(), validator, records, subOpts...),
		configs:   configs,
	}, nil
}

// SaveConfiguration creates or updates a company configuration
func (p *Processor) SaveConfiguration(ctx context.Context, cfg *Configuration) error {
	return p.configs.Save(ctx, cfg)
}

// Configuration fetches a company configuration
func (p *Processor) Configuration(ctx context.Context, companyID uint64) (*Configuration, error) {
	return p.configs.ByCompany(ctx, companyID)
}

// Generate runs a source invoice through the pipeline and appends the
// resulting record to the company's hash chain
func (p *Processor) Generate(ctx context.Context, inv SourceInvoice, cfg *Configuration) (*GenerateResult, error) {
	return p.pipeline.Generate(ctx, inv, cfg)
}

// Verify re-validates a stored record
func (p *Processor) Verify(ctx context.Context, uuid string, cfg *Configuration) (*ValidationReport, error) {
	return p.pipeline.Verify(ctx, uuid, cfg)
}

// Record fetches a stored record by UUID
func (p *Processor) Record(ctx context.Context, uuid string) (*ComplianceRecord, error) {
	return p.pipeline.Record(ctx, uuid)
}

// Chain returns a company's records in chain order
func (p *Processor) Chain(ctx context.Context, companyID uint64) ([]ComplianceRecord, error) {
	return p.pipeline.Chain(ctx, companyID)
}

// ValidateChain walks the company's chain and checks every link
func (p *Processor) ValidateChain(ctx context.Context, companyID uint64) (*ChainStatus, error) {
	return p.pipeline.ValidateChain(ctx, companyID)
}

// QRImage renders a record's stored QR payload as PNG
func (p *Processor) QRImage(ctx context.Context, uuid string, size int) ([]byte, error) {
	return p.pipeline.QRImage(ctx, uuid, size)
}

// Submit sends a record to the authority via its channel's path
func (p *Processor) Submit(ctx context.Context, uuid string) (*SubmitResult, error) {
	rec, err := p.pipeline.Record(ctx, uuid)
	if err != nil {
		return nil, err
	}
	cfg, err := p.configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		return nil, err
	}
	return p.submitter.Submit(ctx, rec, cfg), nil
}

// SweepReportable reports all due simplified invoices for a company
func (p *Processor) SweepReportable(ctx context.Context, companyID uint64) (*SweepResult, error) {
	cfg, err := p.configs.ByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return p.submitter.SweepReportable(ctx, companyID, cfg)
}

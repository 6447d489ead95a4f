// Package pipeline wires extraction, hashing, rendering, signing, QR
// encoding and validation into the single path every invoice takes on
// its way into the compliance chain.
package pipeline

import (
	"context"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"

	"github.com/rezonia/zatca-pipeline/internal/archive"
	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/hashchain"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/qrtlv"
	"github.com/rezonia/zatca-pipeline/internal/signing"
	"github.com/rezonia/zatca-pipeline/internal/snapshot"
	"github.com/rezonia/zatca-pipeline/internal/store"
	"github.com/rezonia/zatca-pipeline/internal/ubl"
)

// Pipeline turns source invoices into persisted, chain-linked compliance
// records. A single Pipeline is safe for concurrent use; chain ordering
// is enforced by the record repository.
type Pipeline struct {
	extractor *snapshot.Extractor
	chain     *hashchain.Engine
	generator *ubl.Generator
	signer    *signing.Engine
	validator *compliance.Validator
	records   *store.RecordRepository
	archive   *archive.Archive
	logger    *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithArchive stores generated documents and hash audits on disk
func WithArchive(a *archive.Archive) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithExtractor overrides the snapshot extractor, e.g. to inject a
// custom tax rate table
func WithExtractor(e *snapshot.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// New builds a pipeline over the given record repository and validator
func New(records *store.RecordRepository, validator *compliance.Validator, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: snapshot.NewExtractor(nil),
		chain:     hashchain.NewEngine(),
		generator: ubl.NewGenerator(),
		signer:    signing.NewEngine(),
		validator: validator,
		records:   records,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateResult carries the persisted record together with the
// validation report produced during generation
type GenerateResult struct {
	Record *model.ComplianceRecord `json:"record"`
	Report *compliance.Report      `json:"report"`
	QRCode string                  `json:"qr_code,omitempty"` // base64 TLV
}

// Generate runs a source invoice through the full pipeline: snapshot,
// chain hash, UBL rendering, signing and QR encoding on phase 2, then
// validation. The record is persisted even when validation fails, so the
// chain stays unbroken; the record's status says whether it may be
// submitted.
func (p *Pipeline) Generate(ctx context.Context, inv model.SourceInvoice, cfg *model.Configuration) (*GenerateResult, error) {
	var report *compliance.Report
	var audit *hashchain.Audit

	rec, err := p.records.Append(ctx, cfg.CompanyID,
		func(prev *model.ComplianceRecord, seq uint64) (*model.ComplianceRecord, error) {
			snap, err := p.extractor.Extract(inv, cfg, seq)
			if err != nil {
				return nil, err
			}

			prevHash := ""
			if prev != nil {
				prevHash = prev.InvoiceHash
			}
			hash := p.chain.CalculateHash(snap, prevHash)
			audit = p.chain.NewAudit(snap, prevHash, seq)

			xml, err := p.generator.Generate(ubl.Input{
				Snapshot:     snap,
				Sequence:     seq,
				InvoiceHash:  hash,
				PreviousHash: prevHash,
			}, cfg)
			if err != nil {
				return nil, err
			}

			var qrTLV []byte
			var signatureValue *string
			if cfg.IsPhase2() {
				signed, err := p.signer.Sign(xml, cfg.PrivateKeyPath, cfg.CertificatePath)
				if err != nil {
					return nil, err
				}
				xml = signed.SignedXML
				signatureValue = &signed.SignatureValue

				qrTLV, err = qrtlv.Encode(qrtlv.FromSnapshot(snap, hash, signed.SignatureValue))
				if err != nil {
					return nil, err
				}
			}

			report = p.validator.Validate(compliance.Input{
				XML:          xml,
				Config:       cfg,
				Snapshot:     snap,
				ExpectedHash: hash,
				QRTLV:        qrTLV,
			})

			rec := &model.ComplianceRecord{
				InvoiceID:   snap.InvoiceID,
				UUID:        snap.UUID,
				Number:      snap.Number,
				Form:        string(snap.Form),
				Channel:     string(snap.Channel),
				Phase:       cfg.Phase,
				XML:         xml,
				InvoiceHash: hash,
				Signature:   signatureValue,
				QRCode:      qrTLV,
				Status:      model.StatusPending,
			}
			if prev != nil {
				rec.PreviousHash = &prev.InvoiceHash
			}
			if !report.Valid {
				rec.Status = model.StatusValidationFailed
				msg := strings.Join(report.AllErrors(), "; ")
				rec.LastError = &msg
			}
			return rec, nil
		})
	if err != nil {
		return nil, err
	}

	p.archiveArtifacts(rec, audit)

	p.logger.Info("invoice generated",
		zap.String("uuid", rec.UUID),
		zap.Uint64("company_id", rec.CompanyID),
		zap.Uint64("sequence", rec.ChainSequence),
		zap.String("status", rec.Status))

	res := &GenerateResult{Record: rec, Report: report}
	if len(rec.QRCode) > 0 {
		res.QRCode = base64.StdEncoding.EncodeToString(rec.QRCode)
	}
	return res, nil
}

// Verify re-validates a stored record against its recorded hash. The
// record itself is not modified.
func (p *Pipeline) Verify(ctx context.Context, uuid string, cfg *model.Configuration) (*compliance.Report, error) {
	rec, err := p.records.ByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return p.validator.Validate(compliance.Input{
		XML:          rec.XML,
		Config:       cfg,
		ExpectedHash: rec.InvoiceHash,
		QRTLV:        rec.QRCode,
	}), nil
}

// ChainStatus is the outcome of a full chain walk. ChainHash attests the
// whole run of invoice hashes for period reporting.
type ChainStatus struct {
	CompanyID uint64 `json:"company_id"`
	Length    int    `json:"length"`
	Intact    bool   `json:"intact"`
	ChainHash string `json:"chain_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ValidateChain walks the company's full chain and checks every link
func (p *Pipeline) ValidateChain(ctx context.Context, companyID uint64) (*ChainStatus, error) {
	records, err := p.records.Chain(ctx, companyID)
	if err != nil {
		return nil, err
	}
	status := &ChainStatus{CompanyID: companyID, Length: len(records), Intact: true}
	if err := p.chain.ValidateChain(companyID, records); err != nil {
		status.Intact = false
		status.Error = err.Error()
		return status, nil
	}
	if len(records) > 0 {
		hashes := make([]string, len(records))
		for i, rec := range records {
			hashes[i] = rec.InvoiceHash
		}
		status.ChainHash = p.chain.ChainHash(hashes)
	}
	return status, nil
}

// QRImage renders the stored QR payload of a record as a PNG
func (p *Pipeline) QRImage(ctx context.Context, uuid string, size int) ([]byte, error) {
	rec, err := p.records.ByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return qrtlv.ImageFromTLV(rec.QRCode, size)
}

// Record fetches a stored record by UUID
func (p *Pipeline) Record(ctx context.Context, uuid string) (*model.ComplianceRecord, error) {
	return p.records.ByUUID(ctx, uuid)
}

// Chain returns the company's records in chain order
func (p *Pipeline) Chain(ctx context.Context, companyID uint64) ([]model.ComplianceRecord, error) {
	return p.records.Chain(ctx, companyID)
}

func (p *Pipeline) archiveArtifacts(rec *model.ComplianceRecord, audit *hashchain.Audit) {
	if p.archive == nil {
		return
	}
	if _, err := p.archive.StoreXML(rec.CompanyID, rec.UUID, "generated", rec.XML); err != nil {
		p.logger.Warn("cannot archive generated document",
			zap.String("uuid", rec.UUID), zap.Error(err))
	}
	if audit != nil {
		if _, err := p.archive.StoreAudit(rec.CompanyID, audit); err != nil {
			p.logger.Warn("cannot archive hash audit",
				zap.String("uuid", rec.UUID), zap.Error(err))
		}
	}
}

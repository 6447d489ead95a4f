// Package hashchain computes invoice hashes and verifies the per-company
// tamper-evident chain. Every hash is SHA-256 over a canonical key=value
// string, so two machines computing the hash for the same snapshot always
// agree byte for byte.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	dec "github.com/rezonia/zatca-pipeline/internal/decimal"
	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Engine computes and verifies invoice hashes
type Engine struct{}

// NewEngine creates a hash engine
func NewEngine() *Engine {
	return &Engine{}
}

// CanonicalData flattens a snapshot into the key/value map the hash is
// computed over. Line items fold into a single deterministic string sorted
// by line id; amounts are fixed to two decimal places. previousHash is
// omitted for the first invoice in a chain.
func (e *Engine) CanonicalData(snap *model.InvoiceSnapshot, previousHash string) map[string]string {
	data := map[string]string{
		"invoice_id":        snap.InvoiceID,
		"invoice_number":    snap.Number,
		"uuid":              snap.UUID,
		"issue_date":        snap.IssueDate,
		"issue_time":        snap.IssueTime,
		"seller_tax_number": snap.Seller.TaxNumber,
		"buyer_name":        snap.Buyer.Name,
		"buyer_tax_number":  snap.Buyer.TaxNumber,
		"currency":          snap.Currency,
		"net_total":         dec.Format(snap.NetTotal),
		"vat_total":         dec.Format(snap.VATTotal),
		"gross_total":       dec.Format(snap.GrossTotal),
		"line_items":        flattenLines(snap.Lines),
	}
	if previousHash != "" {
		data["previous_hash"] = previousHash
	}
	return data
}

// CanonicalString renders the map as k=v pairs joined by &, keys sorted
// ascending
func (e *Engine) CanonicalString(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+data[k])
	}
	return strings.Join(pairs, "&")
}

// CalculateHash computes the uppercase hex SHA-256 of the snapshot's
// canonical form linked to previousHash
func (e *Engine) CalculateHash(snap *model.InvoiceSnapshot, previousHash string) string {
	return e.HashString(e.CanonicalString(e.CanonicalData(snap, previousHash)))
}

// HashString hashes an already-canonical string
func (e *Engine) HashString(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Audit captures everything needed to reproduce a hash after the fact
type Audit struct {
	UUID            string            `json:"uuid"`
	ChainSequence   uint64            `json:"chain_sequence"`
	CanonicalData   map[string]string `json:"canonical_data"`
	CanonicalString string            `json:"canonical_string"`
	PreviousHash    string            `json:"previous_hash,omitempty"`
	InvoiceHash     string            `json:"invoice_hash"`
}

// NewAudit builds the audit trail for a freshly hashed snapshot
func (e *Engine) NewAudit(snap *model.InvoiceSnapshot, previousHash string, sequence uint64) *Audit {
	data := e.CanonicalData(snap, previousHash)
	canonical := e.CanonicalString(data)
	return &Audit{
		UUID:            snap.UUID,
		ChainSequence:   sequence,
		CanonicalData:   data,
		CanonicalString: canonical,
		PreviousHash:    previousHash,
		InvoiceHash:     e.HashString(canonical),
	}
}

// ChainHash digests an ordered run of invoice hashes into a single
// attestation value for a reporting period: SHA-256 over the hashes
// joined with "|", uppercase hex.
func (e *Engine) ChainHash(hashes []string) string {
	return e.HashString(strings.Join(hashes, "|"))
}

// hashFormatRe matches the uppercase hex SHA-256 every link must carry
var hashFormatRe = regexp.MustCompile(`^[A-F0-9]{64}$`)

// ValidateChain walks records ordered by chain sequence and verifies each
// link: sequences contiguous from 1, every hash in the stored format,
// first record carries no previous hash, every later record's previous
// hash equals its predecessor's invoice hash. Returns nil for an empty
// chain.
func (e *Engine) ValidateChain(companyID uint64, records []model.ComplianceRecord) error {
	for i, rec := range records {
		want := uint64(i + 1)
		if rec.ChainSequence != want {
			return model.ErrChainGap(companyID, want, rec.ChainSequence)
		}
		if !hashFormatRe.MatchString(rec.InvoiceHash) {
			return model.ErrChainBroken(companyID, rec.ChainSequence)
		}
		if i == 0 {
			if rec.PreviousHash != nil && *rec.PreviousHash != "" {
				return model.ErrChainBroken(companyID, rec.ChainSequence)
			}
			continue
		}
		if rec.PreviousHash == nil || *rec.PreviousHash != records[i-1].InvoiceHash {
			return model.ErrChainBroken(companyID, rec.ChainSequence)
		}
	}
	return nil
}

func flattenLines(lines []model.LineItem) string {
	sorted := make([]model.LineItem, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	parts := make([]string, 0, len(sorted))
	for _, l := range sorted {
		parts = append(parts, fmt.Sprintf("%d:%s:%s:%s:%s:%s",
			l.ID,
			l.Quantity.String(),
			dec.Format(l.UnitPrice),
			dec.Format(l.NetAmount),
			dec.Format(l.VATAmount),
			dec.Format(l.TotalAmount)))
	}
	return strings.Join(parts, ";")
}

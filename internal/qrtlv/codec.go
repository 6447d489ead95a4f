// Package qrtlv encodes invoice summaries as the TLV byte stream carried
// in Saudi e-invoice QR codes: one byte tag, one byte length, value.
// The one-byte length caps every field at 255 bytes; oversized values are
// rejected, never truncated.
package qrtlv

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"

	dec "github.com/rezonia/zatca-pipeline/internal/decimal"
	"github.com/rezonia/zatca-pipeline/internal/model"
)

// TLV tags
const (
	TagSellerName  = 1
	TagTaxNumber   = 2
	TagIssueDate   = 3
	TagTotal       = 4
	TagVAT         = 5
	TagInvoiceHash = 6
	TagSignature   = 7
	TagIssueTime   = 8
)

// MaxValueLen is the largest value a one-byte length can describe
const MaxValueLen = 255

var requiredTags = []int{
	TagSellerName, TagTaxNumber, TagIssueDate, TagTotal, TagVAT, TagInvoiceHash, TagIssueTime,
}

// hashRe matches the SHA-256 hex format tag 6 must carry
var hashRe = regexp.MustCompile(`^[A-F0-9]{64}$`)

// Payload is the tag set encoded into a QR code. Signature is optional
// (phase 1 devices have nothing to sign with); everything else is
// mandatory.
type Payload struct {
	SellerName  string
	TaxNumber   string
	IssueDate   string // YYYY-MM-DD
	IssueTime   string // HH:MM:SS
	Total       string // gross, two decimal places
	VAT         string // two decimal places
	InvoiceHash string // uppercase hex SHA-256
	Signature   string // base64, optional
}

// FromSnapshot builds the payload for a hashed snapshot
func FromSnapshot(snap *model.InvoiceSnapshot, invoiceHash, signature string) Payload {
	return Payload{
		SellerName:  snap.Seller.Name,
		TaxNumber:   snap.Seller.TaxNumber,
		IssueDate:   snap.IssueDate,
		IssueTime:   snap.IssueTime,
		Total:       dec.Format(snap.GrossTotal),
		VAT:         dec.Format(snap.VATTotal),
		InvoiceHash: invoiceHash,
		Signature:   signature,
	}
}

func (p Payload) fields() map[int]string {
	m := map[int]string{
		TagSellerName:  p.SellerName,
		TagTaxNumber:   p.TaxNumber,
		TagIssueDate:   p.IssueDate,
		TagTotal:       p.Total,
		TagVAT:         p.VAT,
		TagInvoiceHash: p.InvoiceHash,
		TagIssueTime:   p.IssueTime,
	}
	if p.Signature != "" {
		m[TagSignature] = p.Signature
	}
	return m
}

// Encode renders the payload as TLV bytes, tags ascending
func Encode(p Payload) ([]byte, error) {
	fields := p.fields()

	for _, tag := range requiredTags {
		if fields[tag] == "" {
			return nil, model.NewPipelineError(model.ErrCodeCodec,
				fmt.Sprintf("tag_%d", tag), "required QR field is empty", nil)
		}
	}

	tags := make([]int, 0, len(fields))
	for t := range fields {
		tags = append(tags, t)
	}
	sort.Ints(tags)

	var out []byte
	for _, tag := range tags {
		v := []byte(fields[tag])
		if len(v) > MaxValueLen {
			return nil, model.ErrOversizedValue(tag, len(v))
		}
		out = append(out, byte(tag), byte(len(v)))
		out = append(out, v...)
	}
	return out, nil
}

// EncodeBase64 encodes the payload and wraps it in standard base64, the
// form embedded in QR images and API payloads
func EncodeBase64(p Payload) (string, error) {
	raw, err := Encode(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decoded is the result of pulling a TLV stream apart
type Decoded struct {
	Fields map[int]string
	Valid  bool
	Errors []string
}

// Decode parses a TLV byte stream. Structural problems (truncated
// length, duplicate or unknown tags, missing required tags) are collected
// rather than failing fast, so a scan of a damaged code reports everything
// wrong with it.
func Decode(data []byte) Decoded {
	d := Decoded{Fields: map[int]string{}}

	if len(data) == 0 {
		d.Errors = append(d.Errors, "empty TLV payload")
		return d
	}

	for i := 0; i < len(data); {
		if i+2 > len(data) {
			d.Errors = append(d.Errors, fmt.Sprintf("truncated header at offset %d", i))
			return d
		}
		tag := int(data[i])
		length := int(data[i+1])
		i += 2

		if i+length > len(data) {
			d.Errors = append(d.Errors, fmt.Sprintf("value for tag %d runs past end of payload", tag))
			return d
		}

		if tag < TagSellerName || tag > TagIssueTime {
			d.Errors = append(d.Errors, fmt.Sprintf("unknown tag %d", tag))
		} else if _, dup := d.Fields[tag]; dup {
			d.Errors = append(d.Errors, fmt.Sprintf("duplicate tag %d", tag))
		}
		d.Fields[tag] = string(data[i : i+length])
		i += length
	}

	for _, tag := range requiredTags {
		if _, ok := d.Fields[tag]; !ok {
			d.Errors = append(d.Errors, fmt.Sprintf("missing required tag %d", tag))
		}
	}
	if h, ok := d.Fields[TagInvoiceHash]; ok && !hashRe.MatchString(h) {
		d.Errors = append(d.Errors, fmt.Sprintf("tag %d is not a 64-character uppercase hex hash", TagInvoiceHash))
	}

	d.Valid = len(d.Errors) == 0
	return d
}

// DecodeBase64 decodes a base64-wrapped TLV stream
func DecodeBase64(s string) (Decoded, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Decoded{}, model.ErrMalformedTLV(0, "payload is not valid base64")
	}
	return Decode(raw), nil
}

package qrtlv_test

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/qrtlv"
)

func testPayload() qrtlv.Payload {
	return qrtlv.Payload{
		SellerName:  "Najd Trading Co",
		TaxNumber:   "310122393500003",
		IssueDate:   "2026-02-14",
		IssueTime:   "10:30:00",
		Total:       "195.50",
		VAT:         "25.50",
		InvoiceHash: strings.Repeat("A", 64),
		Signature:   "c2lnbmF0dXJl",
	}
}

func TestEncode_Structure(t *testing.T) {
	raw, err := qrtlv.Encode(testPayload())
	require.NoError(t, err)

	// First field: tag 1, length, then the seller name bytes
	require.GreaterOrEqual(t, len(raw), 2)
	assert.Equal(t, byte(qrtlv.TagSellerName), raw[0])
	assert.Equal(t, byte(len("Najd Trading Co")), raw[1])
	assert.Equal(t, "Najd Trading Co", string(raw[2:2+raw[1]]))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	p := testPayload()
	raw, err := qrtlv.Encode(p)
	require.NoError(t, err)

	d := qrtlv.Decode(raw)
	require.True(t, d.Valid, "errors: %v", d.Errors)

	assert.Equal(t, p.SellerName, d.Fields[qrtlv.TagSellerName])
	assert.Equal(t, p.TaxNumber, d.Fields[qrtlv.TagTaxNumber])
	assert.Equal(t, p.IssueDate, d.Fields[qrtlv.TagIssueDate])
	assert.Equal(t, p.Total, d.Fields[qrtlv.TagTotal])
	assert.Equal(t, p.VAT, d.Fields[qrtlv.TagVAT])
	assert.Equal(t, p.InvoiceHash, d.Fields[qrtlv.TagInvoiceHash])
	assert.Equal(t, p.Signature, d.Fields[qrtlv.TagSignature])
	assert.Equal(t, p.IssueTime, d.Fields[qrtlv.TagIssueTime])
}

func TestEncode_TagAssignments(t *testing.T) {
	raw, err := qrtlv.Encode(testPayload())
	require.NoError(t, err)

	// Walk the stream and record each tag's value directly, so the
	// date lands on tag 3 and the time on tag 8 as scanners expect.
	byTag := map[byte]string{}
	for i := 0; i < len(raw); {
		tag, length := raw[i], int(raw[i+1])
		byTag[tag] = string(raw[i+2 : i+2+length])
		i += 2 + length
	}
	assert.Equal(t, "2026-02-14", byTag[3])
	assert.Equal(t, "195.50", byTag[4])
	assert.Equal(t, "10:30:00", byTag[8])
}

func TestEncode_SignatureOptional(t *testing.T) {
	p := testPayload()
	p.Signature = ""

	raw, err := qrtlv.Encode(p)
	require.NoError(t, err)

	d := qrtlv.Decode(raw)
	assert.True(t, d.Valid, "errors: %v", d.Errors)
	_, present := d.Fields[qrtlv.TagSignature]
	assert.False(t, present)
}

func TestEncode_RequiredFields(t *testing.T) {
	p := testPayload()
	p.TaxNumber = ""

	_, err := qrtlv.Encode(p)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeCodec))
}

func TestEncode_RejectsOversizedValue(t *testing.T) {
	p := testPayload()
	p.SellerName = strings.Repeat("x", 256)

	_, err := qrtlv.Encode(p)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeCodec))
	assert.Contains(t, err.Error(), "256 bytes")

	// 255 is exactly representable
	p.SellerName = strings.Repeat("x", 255)
	_, err = qrtlv.Encode(p)
	require.NoError(t, err)
}

func TestEncode_MultibyteLength(t *testing.T) {
	p := testPayload()
	p.SellerName = "مؤسسة نجد التجارية" // byte length, not rune count

	raw, err := qrtlv.Encode(p)
	require.NoError(t, err)

	assert.Equal(t, byte(len([]byte(p.SellerName))), raw[1])

	d := qrtlv.Decode(raw)
	require.True(t, d.Valid)
	assert.Equal(t, p.SellerName, d.Fields[qrtlv.TagSellerName])
}

func TestDecode_Truncated(t *testing.T) {
	raw, err := qrtlv.Encode(testPayload())
	require.NoError(t, err)

	d := qrtlv.Decode(raw[:len(raw)-3])
	assert.False(t, d.Valid)
	require.NotEmpty(t, d.Errors)
	assert.Contains(t, d.Errors[len(d.Errors)-1], "runs past end")
}

func TestDecode_Empty(t *testing.T) {
	d := qrtlv.Decode(nil)
	assert.False(t, d.Valid)
	assert.Contains(t, d.Errors[0], "empty")
}

func TestDecode_UnknownAndDuplicateTags(t *testing.T) {
	// tag 9 is out of range
	d := qrtlv.Decode([]byte{9, 1, 'x'})
	assert.False(t, d.Valid)
	assert.Contains(t, strings.Join(d.Errors, " "), "unknown tag 9")

	// tag 1 twice
	d = qrtlv.Decode([]byte{1, 1, 'a', 1, 1, 'b'})
	assert.False(t, d.Valid)
	assert.Contains(t, strings.Join(d.Errors, " "), "duplicate tag 1")
}

func TestDecode_MissingRequired(t *testing.T) {
	d := qrtlv.Decode([]byte{1, 1, 'a'})
	assert.False(t, d.Valid)
	assert.Contains(t, strings.Join(d.Errors, " "), "missing required tag 2")
}

func TestDecode_RejectsMalformedHash(t *testing.T) {
	cases := []string{
		"not-a-sha256-hash",
		strings.Repeat("A", 63),
		strings.ToLower(strings.Repeat("A", 64)),
	}
	for _, hash := range cases {
		p := testPayload()
		p.InvoiceHash = hash
		raw, err := qrtlv.Encode(p)
		require.NoError(t, err)

		d := qrtlv.Decode(raw)
		assert.False(t, d.Valid, "hash %q should not decode as valid", hash)
		assert.Contains(t, strings.Join(d.Errors, " "), "uppercase hex")
	}
}

func TestEncodeBase64_RoundTrip(t *testing.T) {
	s, err := qrtlv.EncodeBase64(testPayload())
	require.NoError(t, err)

	_, err = base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)

	d, err := qrtlv.DecodeBase64(s)
	require.NoError(t, err)
	assert.True(t, d.Valid)
}

func TestDecodeBase64_Garbage(t *testing.T) {
	_, err := qrtlv.DecodeBase64("!!not base64!!")
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeCodec))
}

func TestFromSnapshot(t *testing.T) {
	snap := &model.InvoiceSnapshot{
		IssueDate:  "2026-02-14",
		IssueTime:  "10:30:00",
		Seller:     model.Party{Name: "Najd Trading Co", TaxNumber: "310122393500003"},
		GrossTotal: decimal.RequireFromString("195.5"),
		VATTotal:   decimal.RequireFromString("25.5"),
	}

	hash := strings.Repeat("B", 64)
	p := qrtlv.FromSnapshot(snap, hash, "SIG")

	assert.Equal(t, "2026-02-14", p.IssueDate)
	assert.Equal(t, "10:30:00", p.IssueTime)
	assert.Equal(t, "195.50", p.Total)
	assert.Equal(t, "25.50", p.VAT)
	assert.Equal(t, hash, p.InvoiceHash)
}

func TestImage_PNG(t *testing.T) {
	img, err := qrtlv.Image(testPayload(), 128)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 128, decoded.Bounds().Dx())
	assert.Equal(t, 128, decoded.Bounds().Dy())
}

func TestImageDataURL(t *testing.T) {
	url, err := qrtlv.ImageDataURL(testPayload(), 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestImage_PropagatesEncodeErrors(t *testing.T) {
	p := testPayload()
	p.InvoiceHash = ""

	_, err := qrtlv.Image(p, 128)
	require.Error(t, err)
}

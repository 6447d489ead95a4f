package qrtlv

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// DefaultImageSize is the rendered QR edge length in pixels
const DefaultImageSize = 256

// Image renders the payload as a PNG QR code. The QR content is the
// base64 TLV string, which is what receipt scanners expect to find.
func Image(p Payload, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}

	content, err := EncodeBase64(p)
	if err != nil {
		return nil, err
	}
	return renderPNG(content, size)
}

// ImageFromTLV renders a PNG QR code from already-encoded TLV bytes, as
// stored on a compliance record
func ImageFromTLV(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	if len(data) == 0 {
		return nil, model.ErrMalformedTLV(0, "no TLV payload to render")
	}
	return renderPNG(base64.StdEncoding.EncodeToString(data), size)
}

func renderPNG(content string, size int) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, model.NewPipelineError(model.ErrCodeCodec, "qr", "QR encoding failed", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, model.NewPipelineError(model.ErrCodeCodec, "qr", "QR scaling failed", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, model.NewPipelineError(model.ErrCodeCodec, "qr", "PNG encoding failed", err)
	}
	return buf.Bytes(), nil
}

// ImageDataURL renders the payload as a data: URL suitable for direct
// embedding in receipt HTML
func ImageDataURL(p Payload, size int) (string, error) {
	img, err := Image(p, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img), nil
}

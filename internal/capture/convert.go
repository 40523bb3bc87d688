package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// needsNormalization reports whether the payload must be converted before the
// allowed-type check: HEIC photos (common from phone cameras) and PDF
// receipts (common from email).
func needsNormalization(data []byte, mime string) bool {
	return mime == "application/pdf" || isHEICFormat(data) || isHEICMimeType(mime)
}

// normalizeToJPEG converts a HEIC image or the first page of a PDF to JPEG.
func normalizeToJPEG(data []byte, mime string) ([]byte, error) {
	if mime == "application/pdf" {
		return pdfToJPEG(data)
	}
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC image: %w", err)
	}
	return encodeJPEG(img)
}

// pdfToJPEG renders the first page of a PDF; most receipts are single page.
func pdfToJPEG(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: stillQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks the ftyp box for HEIC/HEIF brands.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mime string) bool {
	return strings.Contains(mime, "heic") || strings.Contains(mime, "heif")
}

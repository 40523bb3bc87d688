package scan

import (
	"context"

	"github.com/snapledger/snapledger/internal/capture"
)

// Extraction is the raw field set returned by an OCR backend for one image.
// Amount fields are pointers so precedence can distinguish absent from zero.
type Extraction struct {
	Merchant    string   `json:"merchant"`
	Total       *float64 `json:"total"`
	Subtotal    *float64 `json:"subtotal"`
	Amount      *float64 `json:"amount"`
	Date        string   `json:"date"` // ISO 8601
	Type        string   `json:"type"` // income or expense
	Description string   `json:"description"`
	RawText     string   `json:"rawText"`
	ReceiptID   string   `json:"receiptId"`
}

// Scanner is the OCR capability: analyze one receipt image and extract its
// fields. The engine itself is an opaque remote service.
type Scanner interface {
	ScanReceipt(ctx context.Context, img *capture.Image) (*Extraction, error)

	// Close releases backend resources.
	Close() error
}

package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/snapledger/snapledger/internal/capture"
	"github.com/snapledger/snapledger/internal/resilience"
)

// Type distinguishes money in from money out.
type Type string

const (
	TypeIncome  Type = "income"
	TypeExpense Type = "expense"
)

// PlaceholderMerchant stands in when the OCR backend finds no merchant name.
// A receipt still carrying it fails transaction validation.
const PlaceholderMerchant = "Unspecified"

// Result is the normalized OCR output for one image. It is immutable once
// returned; user corrections live on the staged receipt.
type Result struct {
	Merchant    string    `json:"merchant"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	RawText     string    `json:"raw_text"`
	ReceiptID   string    `json:"receipt_id"`
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time { return time.Now() }

// Service submits captured images for OCR extraction through the resilience
// layer's retry policy and normalizes the extracted fields.
type Service struct {
	scanner    Scanner
	retryer    *resilience.Retryer
	timeSource TimeSource
}

// NewService creates a Service with the default clock.
func NewService(scanner Scanner, retryer *resilience.Retryer) *Service {
	return NewServiceWithDeps(scanner, retryer, defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with an injected clock for tests.
func NewServiceWithDeps(scanner Scanner, retryer *resilience.Retryer, timeSource TimeSource) *Service {
	return &Service{scanner: scanner, retryer: retryer, timeSource: timeSource}
}

// Submit runs one image through the OCR backend, retrying per the resilience
// policy, and returns the normalized result.
func (s *Service) Submit(ctx context.Context, img *capture.Image) (*Result, error) {
	var extraction *Extraction
	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		var scanErr error
		extraction, scanErr = s.scanner.ScanReceipt(ctx, img)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}
	return s.normalize(extraction), nil
}

// normalize applies the canonical field defaults. Amount precedence is
// total, then subtotal, then amount; the first present value wins. This
// single precedence applies everywhere a scan amount is read.
func (s *Service) normalize(extraction *Extraction) *Result {
	merchant := extraction.Merchant
	if merchant == "" {
		merchant = PlaceholderMerchant
	}

	var amount float64
	switch {
	case extraction.Total != nil:
		amount = *extraction.Total
	case extraction.Subtotal != nil:
		amount = *extraction.Subtotal
	case extraction.Amount != nil:
		amount = *extraction.Amount
	}

	date := parseReceiptDate(extraction.Date)
	if date.IsZero() {
		date = s.timeSource.Now()
	}

	receiptType := TypeExpense
	if extraction.Type == string(TypeIncome) {
		receiptType = TypeIncome
	}

	description := extraction.Description
	if description == "" {
		description = fmt.Sprintf("Receipt from %s", merchant)
	}

	return &Result{
		Merchant:    merchant,
		Amount:      amount,
		Date:        date,
		Type:        receiptType,
		Description: description,
		RawText:     extraction.RawText,
		ReceiptID:   extraction.ReceiptID,
	}
}

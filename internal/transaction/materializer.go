package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snapledger/snapledger/internal/resilience"
	"github.com/snapledger/snapledger/internal/scan"
	"github.com/snapledger/snapledger/internal/staging"
)

// PayloadDraft tags queued items holding a serialized Draft awaiting
// delivery to the transactions API.
const PayloadDraft = "transaction_draft"

// Draft is the data submitted to create one transaction. It exists only
// transiently, built from a staged receipt at materialization time.
type Draft struct {
	Merchant    string    `json:"merchant"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Type        scan.Type `json:"type"`
	ReceiptRef  string    `json:"receiptRef"`
}

// ValidationError reports which field blocked materialization.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Submitter is the remote transaction boundary.
type Submitter interface {
	// CreateTransaction durably creates a transaction from the draft.
	CreateTransaction(ctx context.Context, draft *Draft) error
}

// Outcome aggregates a batch materialization.
type Outcome struct {
	Created int `json:"created"`
	Failed  int `json:"failed"`
}

// Materializer validates staged receipts and submits them as transactions.
type Materializer struct {
	store     *staging.Store
	submitter Submitter
	layer     *resilience.Layer
	logger    *slog.Logger
}

// NewMaterializer creates a Materializer.
func NewMaterializer(store *staging.Store, submitter Submitter, layer *resilience.Layer) *Materializer {
	return &Materializer{
		store:     store,
		submitter: submitter,
		layer:     layer,
		logger:    slog.Default(),
	}
}

// Materialize validates the staged receipt and submits it as a transaction.
// Validation is ordered and fail-fast: merchant first, then amount; no
// network call is made when either fails. The receipt is claimed up front so
// concurrent materializations submit at most once, and released again when
// validation or submission fails. On success it is marked processed, which is
// terminal.
func (m *Materializer) Materialize(ctx context.Context, id string) (*Draft, error) {
	staged, err := m.store.Claim(id)
	if err != nil {
		return nil, err
	}

	fields := staged.Effective()
	if err := validate(fields); err != nil {
		m.store.Release(id)
		return nil, err
	}

	draft := &Draft{
		Merchant:    fields.Merchant,
		Amount:      fields.Amount,
		Date:        fields.Date,
		Description: fields.Description,
		Type:        fields.Type,
		ReceiptRef:  staged.ID,
	}

	err = m.layer.Do(ctx, func(ctx context.Context) error {
		return m.submitter.CreateTransaction(ctx, draft)
	})
	if err != nil {
		payload, merr := json.Marshal(draft)
		if merr != nil {
			payload = nil
		}
		result := m.layer.Resolve(err, fmt.Sprintf("creating transaction for receipt %s", staged.ID), PayloadDraft, payload)
		if !result.Recovered() {
			m.store.Release(staged.ID)
			return nil, fmt.Errorf("creating transaction: %w", err)
		}
		// Queued for later delivery; succeeded from the user's perspective.
		m.logger.Info("transaction queued for later delivery", "receipt", staged.ID, "queue", result.QueueKey)
	}

	if _, err := m.store.MarkProcessed(staged.ID); err != nil {
		return nil, fmt.Errorf("marking receipt processed: %w", err)
	}
	return draft, nil
}

// MaterializeBatch processes the receipts sequentially, preserving input
// order, and aggregates counts without aborting on individual failures.
func (m *Materializer) MaterializeBatch(ctx context.Context, ids []string) Outcome {
	var outcome Outcome
	for _, id := range ids {
		if _, err := m.Materialize(ctx, id); err != nil {
			outcome.Failed++
			m.logger.Warn("batch item failed to materialize", "receipt", id, "error", err)
			continue
		}
		outcome.Created++
	}
	return outcome
}

// validate applies the ordered checks: merchant present and not the
// placeholder, then amount strictly positive. The first failing check wins.
func validate(fields staging.Fields) error {
	if fields.Merchant == "" || fields.Merchant == scan.PlaceholderMerchant {
		return &ValidationError{Field: "merchant", Reason: "merchant name is missing; enter the store name before creating a transaction"}
	}
	if fields.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("amount must be greater than zero, got %v", fields.Amount)}
	}
	return nil
}

// IsValidation reports whether err is a materialization validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

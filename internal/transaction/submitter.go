package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snapledger/snapledger/internal/resilience"
)

// HTTPSubmitter implements Submitter against a remote transactions API.
type HTTPSubmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSubmitter creates an HTTPSubmitter for the transactions endpoint.
func NewHTTPSubmitter(baseURL string, timeout time.Duration) *HTTPSubmitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSubmitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateTransaction POSTs the draft as JSON.
func (h *HTTPSubmitter) CreateTransaction(ctx context.Context, draft *Draft) error {
	return h.send(ctx, http.MethodPost, h.baseURL+"/transactions", draft)
}

// UpdateReceipt PATCHes partial fields onto a server-side receipt.
func (h *HTTPSubmitter) UpdateReceipt(ctx context.Context, receiptID string, fields map[string]any) error {
	return h.send(ctx, http.MethodPatch, fmt.Sprintf("%s/receipts/%s", h.baseURL, receiptID), fields)
}

// DeleteReceipt voids a server-side receipt.
func (h *HTTPSubmitter) DeleteReceipt(ctx context.Context, receiptID string) error {
	return h.send(ctx, http.MethodDelete, fmt.Sprintf("%s/receipts/%s", h.baseURL, receiptID), nil)
}

func (h *HTTPSubmitter) send(ctx context.Context, method, url string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("submitting request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &resilience.StatusError{Status: resp.StatusCode, Message: string(msg)}
	}
	return nil
}

package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/snapledger/snapledger/internal/capture"
)

// extractionPrompt instructs the model to read the receipt and return the
// field set the pipeline expects.
const extractionPrompt = `You are analyzing a receipt or invoice image. Carefully read all text and extract:

1. **Merchant**: the store or business name, usually the largest text at the top.
2. **Amounts**: the grand total ("TOTAL", "Amount Due"), the subtotal if printed, and any other single amount. Numeric values only.
3. **Date**: the transaction date, converted to ISO 8601 (YYYY-MM-DD).
4. **Type**: "income" for refunds or credits, otherwise "expense".
5. **Raw text**: all legible text on the receipt, line by line.

Return ONLY valid JSON in this exact format:
{
  "merchant": "Store Name",
  "total": 0.00,
  "subtotal": 0.00,
  "amount": 0.00,
  "date": "YYYY-MM-DD",
  "type": "expense",
  "rawText": "..."
}

Important:
- Amounts must be numbers, not strings; use null for fields you cannot find
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements Scanner using Google Gemini vision models.
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a Gemini scanner.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   client.GenerativeModel(modelName),
		timeout: DefaultAttemptTimeout,
	}, nil
}

// ScanReceipt sends the image and prompt to the model and parses the JSON it
// returns.
func (g *Gemini) ScanReceipt(ctx context.Context, img *capture.Image) (*Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// genai.ImageData wants the bare format suffix, not the MIME type.
	format := strings.TrimPrefix(img.MIME, "image/")
	parts := []genai.Part{
		genai.ImageData(format, img.Data),
		genai.Text(extractionPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("ocr backend returned no response")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	extraction, err := parseExtractionJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing extraction: %w", err)
	}
	return extraction, nil
}

// Close closes the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

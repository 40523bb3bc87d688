package scan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// dateFormats are the receipt date layouts tried after ISO 8601.
var dateFormats = []string{
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// parseExtractionJSON parses a model's text response into an Extraction. The
// response may be wrapped in markdown code fences or surrounded by prose.
func parseExtractionJSON(text string) (*Extraction, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[start : end+1]

	var extraction Extraction
	if err := json.Unmarshal([]byte(text), &extraction); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	extraction.Merchant = strings.TrimSpace(extraction.Merchant)
	return &extraction, nil
}

// parseReceiptDate parses a receipt date string, trying ISO 8601 first and
// then common regional layouts. The zero time is returned when nothing fits.
func parseReceiptDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if d, err := time.Parse("2006-01-02", value); err == nil {
		return d
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, value); err == nil {
			return d
		}
	}
	return time.Time{}
}

package scan

import (
	"encoding/json"
	"fmt"

	"github.com/snapledger/snapledger/internal/capture"
)

// PayloadCapture tags queued items holding a serialized capture that never
// reached the OCR backend. A drain replays them through scan submission.
const PayloadCapture = "captured_image"

// queuedCapture is the durable form of a capture pending resubmission.
type queuedCapture struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// EncodeQueuedCapture serializes a capture for the durable queue.
func EncodeQueuedCapture(img *capture.Image) []byte {
	data, err := json.Marshal(queuedCapture{Name: img.Name, MIME: img.MIME, Data: img.Data})
	if err != nil {
		return nil
	}
	return data
}

// DecodeQueuedCapture restores a queued capture payload.
func DecodeQueuedCapture(payload []byte) (*capture.Image, error) {
	var q queuedCapture
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("decoding queued capture: %w", err)
	}
	return &capture.Image{Data: q.Data, MIME: q.MIME, Source: capture.SourceFile, Name: q.Name}, nil
}

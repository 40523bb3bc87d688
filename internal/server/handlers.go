package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/snapledger/snapledger/internal/batch"
	"github.com/snapledger/snapledger/internal/resilience"
	"github.com/snapledger/snapledger/internal/scan"
	"github.com/snapledger/snapledger/internal/staging"
	"github.com/snapledger/snapledger/internal/transaction"
)

// maxFormSize caps multipart parsing; per-file limits are enforced by the
// capture layer.
const maxFormSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// scanResponse is the single-capture submission result: the staged receipt
// plus how any failure was resolved.
type scanResponse struct {
	Receipt  *staging.StagedReceipt `json:"receipt"`
	Fallback string                 `json:"fallback,omitempty"`
}

// handleSubmitScan accepts one uploaded image, submits it for OCR, and
// returns the staged receipt.
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "error reading file")
		return
	}

	img, err := s.files.Accept(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	staged := s.store.Begin()
	if s.images != nil {
		path, err := s.images.Save(staged.ID, img)
		if err != nil {
			slog.Warn("saving original image", "receipt", staged.ID, "error", err)
		} else if _, err := s.store.AttachImage(staged.ID, path); err != nil {
			slog.Warn("attaching image path", "receipt", staged.ID, "error", err)
		}
	}

	result, err := s.scans.Submit(r.Context(), img)
	if err != nil {
		fallback := s.layer.Resolve(err, "scanning "+img.Name, scan.PayloadCapture, scan.EncodeQueuedCapture(img))
		failed, _ := s.store.Fail(staged.ID, err)
		status := http.StatusBadGateway
		if fallback.Status != resilience.FallbackNone {
			// Manual entry or queued delivery; the receipt stays editable.
			status = http.StatusAccepted
		}
		writeJSON(w, status, scanResponse{Receipt: failed, Fallback: string(fallback.Status)})
		return
	}

	scanned, err := s.store.Complete(staged.ID, result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, scanResponse{Receipt: scanned})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile serves the original captured image for review.
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusNotFound, "image storage not configured")
		return
	}
	receipt, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if receipt.ImagePath == "" {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	data, err := s.images.Get(receipt.ImagePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

func (s *Server) handleEditReceipt(w http.ResponseWriter, r *http.Request) {
	var edits staging.Edits
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		writeError(w, http.StatusBadRequest, "invalid edit payload")
		return
	}
	receipt, err := s.store.ApplyEdit(r.PathValue("id"), edits)
	if err != nil {
		switch {
		case errors.Is(err, staging.ErrAlreadyProcessed):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusNotFound, "receipt not found")
		}
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleClearReceipt(w http.ResponseWriter, r *http.Request) {
	s.store.Clear(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	draft, err := s.materializer.Materialize(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case transaction.IsValidation(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, staging.ErrAlreadyProcessed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, staging.ErrNotStaged):
			writeError(w, http.StatusNotFound, "receipt not found")
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleBatchAddFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}
	var uploads []batch.FileUpload
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "error reading file")
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "error reading file")
				return
			}
			uploads = append(uploads, batch.FileUpload{
				Name: header.Filename,
				MIME: header.Header.Get("Content-Type"),
				Data: data,
			})
		}
	}

	accepted, err := s.orchestrator.AddFiles(uploads)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

func (s *Server) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Process(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    s.orchestrator.State(),
		"tally":    s.orchestrator.Tally(),
		"outcomes": s.orchestrator.Outcomes(),
	})
}

func (s *Server) handleBatchTransactions(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.orchestrator.CreateTransactions(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.orchestrator.State(),
		"created": outcome.Created,
		"failed":  outcome.Failed,
	})
}

func (s *Server) handleBatchReset(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Reset(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.orchestrator.State()})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    s.orchestrator.State(),
		"tally":    s.orchestrator.Tally(),
		"outcomes": s.orchestrator.Outcomes(),
		"created":  s.orchestrator.Created(),
	})
}

// handleQueueDrain delivers queued offline payloads to the sync target.
func (s *Server) handleQueueDrain(w http.ResponseWriter, r *http.Request) {
	if s.syncFn == nil {
		writeError(w, http.StatusNotImplemented, "no sync target configured")
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		req.Key = resilience.QueueKeyOffline
	}
	stats := s.layer.Drain(r.Context(), req.Key, s.syncFn)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleErrorLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.layer.ErrorLog().Records())
}

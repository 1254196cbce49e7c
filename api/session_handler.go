package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raushankrgupta/photo-restorer/codec"
	"github.com/raushankrgupta/photo-restorer/session"
	"github.com/raushankrgupta/photo-restorer/utils"
)

// MaxInstructionRunes bounds the free-text instruction.
const MaxInstructionRunes = 2000

// InstructionRequest is the body of PUT /api/session/instruction.
type InstructionRequest struct {
	Instruction string `json:"instruction"`
}

// GetSession returns the current session view.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap := h.machine(r).Snapshot()
	utils.RespondJSON(w, http.StatusOK, BuildView(snap, r.URL.Query().Get("inline") == "1"))
}

// UploadImage selects a new original image from the multipart "image" field.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(&logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Upload Image API]")

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			utils.RespondError(w, &logMessageBuilder, fmt.Sprintf("Image exceeds the %d MB limit", h.MaxUploadBytes>>20), http.StatusRequestEntityTooLarge)
			return
		}
		utils.RespondError(w, &logMessageBuilder, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}

	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		utils.RespondError(w, &logMessageBuilder, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, &logMessageBuilder, fmt.Sprintf("Failed to read upload: %v", err), http.StatusBadRequest)
		return
	}

	// The declared type is kept as is; the restoration client rejects
	// anything not declared as an image before calling the model.
	mimeType := header.Header.Get("Content-Type")
	sniffed := codec.Sniff(data)

	img := session.Image{Data: data, MIMEType: mimeType, Name: header.Filename}
	if width, height, err := codec.Dimensions(data); err == nil {
		img.Width, img.Height = width, height
	} else {
		utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Could not read dimensions: %v", err))
	}

	m := h.machine(r)
	utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Session=%s File=%s Type=%s Sniffed=%s Bytes=%d", m.ID(), header.Filename, mimeType, sniffed, len(data)))

	if err := m.SelectImage(img); err != nil {
		h.respondTransitionError(w, &logMessageBuilder, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, BuildView(m.Snapshot(), false))
}

// SetInstruction updates the free-text instruction.
func (h *Handler) SetInstruction(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(&logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Set Instruction API]")

	var req InstructionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, &logMessageBuilder, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if n := utf8.RuneCountInString(req.Instruction); n > MaxInstructionRunes {
		utils.RespondError(w, &logMessageBuilder, fmt.Sprintf("instruction is too long (%d characters, limit %d)", n, MaxInstructionRunes), http.StatusBadRequest)
		return
	}

	m := h.machine(r)
	if err := m.SetInstruction(req.Instruction); err != nil {
		h.respondTransitionError(w, &logMessageBuilder, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, BuildView(m.Snapshot(), false))
}

// Restore starts a restoration of the selected image.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(&logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Restore API]")

	m := h.machine(r)
	utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Session=%s", m.ID()))

	if err := m.BeginRestore(); err != nil {
		h.respondTransitionError(w, &logMessageBuilder, err)
		return
	}
	utils.AddToLogMessage(&logMessageBuilder, "Restoration started")
	utils.RespondJSON(w, http.StatusAccepted, BuildView(m.Snapshot(), false))
}

// Reset returns the session to Idle.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	m.Reset()
	utils.RespondJSON(w, http.StatusOK, BuildView(m.Snapshot(), false))
}

// Original serves the uploaded image.
func (h *Handler) Original(w http.ResponseWriter, r *http.Request) {
	snap := h.machine(r).Snapshot()
	if snap.Original == nil {
		utils.RespondError(w, nil, "no image selected", http.StatusNotFound)
		return
	}
	writeImage(w, snap.Original, "")
}

// Restored serves the restored image, as an attachment with ?download=1.
func (h *Handler) Restored(w http.ResponseWriter, r *http.Request) {
	snap := h.machine(r).Snapshot()
	if snap.Status != session.StatusSucceeded || snap.Restored == nil {
		utils.RespondError(w, nil, "no restored image available", http.StatusNotFound)
		return
	}

	disposition := ""
	if r.URL.Query().Get("download") == "1" {
		disposition = fmt.Sprintf("attachment; filename=%q", DownloadName(snap.Original))
	}
	writeImage(w, snap.Restored, disposition)
}

func writeImage(w http.ResponseWriter, img *session.Image, disposition string) {
	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Length", fmt.Sprint(len(img.Data)))
	w.Header().Set("Cache-Control", "no-store")
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		utils.Logger.Debug("Failed to write image", zap.Error(err))
	}
}

func (h *Handler) respondTransitionError(w http.ResponseWriter, logMessageBuilder *strings.Builder, err error) {
	switch {
	case errors.Is(err, session.ErrInFlight):
		utils.RespondError(w, logMessageBuilder, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrNoImage), errors.Is(err, session.ErrEmptyImage):
		utils.RespondError(w, logMessageBuilder, err.Error(), http.StatusBadRequest)
	default:
		utils.RespondError(w, logMessageBuilder, err.Error(), http.StatusInternalServerError)
	}
}

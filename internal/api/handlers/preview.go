package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/internal/downstream"
	"github.com/baechuer/kimg-panel/internal/preview"
	"github.com/baechuer/kimg-panel/internal/query"
	"github.com/baechuer/kimg-panel/middleware"
)

// Previewer is one preview session, as the handlers use it.
type Previewer interface {
	Upload(ctx context.Context, filename string, data []byte) (preview.Snapshot, error)
	SetPanel(ctx context.Context, panel query.PanelName, values map[string]any) (preview.Snapshot, error)
	LoadHash(ctx context.Context, hash string) (preview.Snapshot, error)
	Delete(ctx context.Context, confirm bool) (preview.Snapshot, error)
	Snapshot(ctx context.Context) (preview.Snapshot, error)
	Panels(ctx context.Context) ([]preview.PanelView, error)
	Notifications(ctx context.Context) ([]domain.Notification, error)
	Rendition(ctx context.Context, view preview.View) (*domain.Rendition, error)
}

// SessionFunc returns the session for a session id.
type SessionFunc func(id string) Previewer

var validate = validator.New()

// multipartSlack covers boundaries and part headers on top of the file itself.
const multipartSlack = 64 << 10

type hashRequest struct {
	Hash string `json:"hash" validate:"required,len=32,alphanum"`
}

type PreviewHandler struct {
	sessions      SessionFunc
	maxUploadSize int64
}

func NewPreviewHandler(sessions SessionFunc, maxUploadSize int64) *PreviewHandler {
	return &PreviewHandler{sessions: sessions, maxUploadSize: maxUploadSize}
}

func (h *PreviewHandler) session(r *http.Request) Previewer {
	return h.sessions(middleware.GetSessionID(r.Context()))
}

// GET /api/session
func (h *PreviewHandler) Session(w http.ResponseWriter, r *http.Request) {
	snap, err := h.session(r).Snapshot(r.Context())
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusOK, snap)
}

// GET /api/session/notifications drains the pending notifications.
func (h *PreviewHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.session(r).Notifications(r.Context())
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusOK, map[string]any{"items": notes})
}

// GET /api/panels
func (h *PreviewHandler) Panels(w http.ResponseWriter, r *http.Request) {
	views, err := h.session(r).Panels(r.Context())
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusOK, map[string]any{"items": views})
}

// PUT /api/panels/{panel} replaces a panel's values. Omitted fields take
// their defaults.
func (h *PreviewHandler) SetPanel(w http.ResponseWriter, r *http.Request) {
	panel := query.PanelName(chi.URLParam(r, "panel"))

	var values map[string]any
	if err := render.DecodeJSON(r.Body, &values); err != nil {
		sendError(w, r, "validation_failed", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if values == nil {
		values = map[string]any{}
	}

	snap, err := h.session(r).SetPanel(r.Context(), panel, values)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusOK, snap)
}

// POST /api/image uploads the multipart "file" part. The reply comes back
// while the session is still uploading.
func (h *PreviewHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartSlack)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, r, "payload_too_large", "image exceeds upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, r, "validation_failed", "expected multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(downstream.FormField)
	if err != nil {
		sendError(w, r, "validation_failed", "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(w, r, "validation_failed", "unreadable file", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		sendError(w, r, "validation_failed", "empty file", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > h.maxUploadSize {
		sendError(w, r, "payload_too_large", "image exceeds upload limit", http.StatusRequestEntityTooLarge)
		return
	}

	snap, err := h.session(r).Upload(r.Context(), header.Filename, data)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusAccepted, snap)
}

// POST /api/image/hash loads an image already stored in kimg.
func (h *PreviewHandler) EnterHash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		sendError(w, r, "validation_failed", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		sendError(w, r, domain.ErrInvalidHash.Error(), "hash must be 32 letters or digits", http.StatusBadRequest)
		return
	}

	snap, err := h.session(r).LoadHash(r.Context(), req.Hash)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusOK, snap)
}

// DELETE /api/image?confirm=true
func (h *PreviewHandler) Delete(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	snap, err := h.session(r).Delete(r.Context(), confirm)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	sendJSON(w, r, http.StatusOK, snap)
}

// GET /api/preview/{view} serves the bytes currently displayed for a view.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	view, ok := preview.ParseView(chi.URLParam(r, "view"))
	if !ok {
		sendError(w, r, "validation_failed", "view must be origin or derived", http.StatusBadRequest)
		return
	}

	rend, err := h.session(r).Rendition(r.Context(), view)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}

	ct := rend.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(rend.Body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rend.Body)
}

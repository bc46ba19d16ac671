package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/upload"
)

// UploadHandler exposes the orchestrator on a thin internal route. The
// public multipart intake lives in the gateway; this endpoint receives the
// already-extracted file bytes with identity carried in headers.
type UploadHandler struct {
	orchestrator *upload.Orchestrator
	maxBody      int64
}

// NewUploadHandler creates a new upload handler. maxBody bounds the
// request body read; zero applies the orchestrator policy's image limit.
func NewUploadHandler(orchestrator *upload.Orchestrator, maxBody int64) *UploadHandler {
	if maxBody == 0 {
		maxBody = upload.DefaultPolicy().MaxBytesImage + 1
	}
	return &UploadHandler{orchestrator: orchestrator, maxBody: maxBody}
}

// Create handles POST /internal/v1/uploads.
//
// Headers:
//   - X-User-Id: owner of the upload (required)
//   - X-Filename: original filename (optional)
//   - traceparent: W3C trace context (optional)
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		upload.ProblemFor(upload.ErrMissingFile).Render(w)
		return
	}

	req := &upload.Request{
		UserID:      r.Header.Get("X-User-Id"),
		Filename:    r.Header.Get("X-Filename"),
		Data:        body,
		TraceParent: r.Header.Get("traceparent"),
	}

	resp, err := h.orchestrator.HandleUpload(r.Context(), req)
	if err != nil {
		var limited *ratelimit.LimitExceededError
		if errors.As(err, &limited) {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limited.Max))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limited.ResetAt.Unix(), 10))
		}
		problem := upload.ProblemFor(err)
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("Upload failed", logger.KeyError, err)
		}
		problem.Render(w)
		return
	}

	if resp.RateLimit != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(resp.RateLimit.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(resp.RateLimit.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resp.RateLimit.ResetAt.Unix(), 10))
	}

	status := http.StatusAccepted
	if resp.Status == upload.StatusAlreadyUploaded {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"status":    string(resp.Status),
		"wallpaper": resp.Wallpaper,
	})
}

package upload

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// Problem is an RFC 7807 problem document describing a failed upload.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`

	// RetryAfterSeconds is set for rate-limit rejections.
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
}

// ProblemFor maps an upload error onto a problem document and HTTP status.
func ProblemFor(err error) *Problem {
	var limited *ratelimit.LimitExceededError
	if errors.As(err, &limited) {
		retry := int(limited.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		return &Problem{
			Type:              "urn:wallpaperd:problem:rate-limited",
			Title:             "Too many uploads",
			Status:            http.StatusTooManyRequests,
			Detail:            "Upload limit of " + strconv.Itoa(limited.Max) + " requests per window exceeded.",
			RetryAfterSeconds: retry,
		}
	}

	switch {
	case errors.Is(err, ErrMissingFile):
		return &Problem{
			Type:   "urn:wallpaperd:problem:missing-file",
			Title:  "No file provided",
			Status: http.StatusBadRequest,
		}
	case errors.Is(err, ErrMissingUserID):
		return &Problem{
			Type:   "urn:wallpaperd:problem:missing-user",
			Title:  "No user id provided",
			Status: http.StatusUnauthorized,
		}
	case errors.Is(err, ErrFileTooLarge):
		return &Problem{
			Type:   "urn:wallpaperd:problem:file-too-large",
			Title:  "File too large",
			Status: http.StatusRequestEntityTooLarge,
			Detail: err.Error(),
		}
	case errors.Is(err, ErrInvalidFormat):
		return &Problem{
			Type:   "urn:wallpaperd:problem:invalid-format",
			Title:  "Unsupported file format",
			Status: http.StatusUnsupportedMediaType,
			Detail: err.Error(),
		}
	case errors.Is(err, ErrDimensionsOutOfBounds):
		return &Problem{
			Type:   "urn:wallpaperd:problem:dimensions",
			Title:  "Image dimensions out of bounds",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
		}
	case errors.Is(err, wallpaper.ErrDuplicateContent):
		return &Problem{
			Type:   "urn:wallpaperd:problem:duplicate",
			Title:  "Duplicate upload",
			Status: http.StatusConflict,
		}
	}

	return &Problem{
		Type:   "urn:wallpaperd:problem:internal",
		Title:  "Upload failed",
		Status: http.StatusInternalServerError,
	}
}

// Render writes the problem document to w with the appropriate status and
// rate-limit headers.
func (p *Problem) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(p.RetryAfterSeconds))
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

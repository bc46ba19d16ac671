package upload

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

func TestProblemFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"missing file", ErrMissingFile, http.StatusBadRequest},
		{"missing user", ErrMissingUserID, http.StatusUnauthorized},
		{"too large", fmt.Errorf("%w: 99 bytes", ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{"invalid format", fmt.Errorf("%w: text/plain", ErrInvalidFormat), http.StatusUnsupportedMediaType},
		{"dimensions", fmt.Errorf("%w: 10x10", ErrDimensionsOutOfBounds), http.StatusUnprocessableEntity},
		{"duplicate", wallpaper.ErrDuplicateContent, http.StatusConflict},
		{"unknown", fmt.Errorf("database on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProblemFor(tt.err)
			if p.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", p.Status, tt.wantStatus)
			}
			if p.Type == "" || p.Title == "" {
				t.Errorf("problem incomplete: %+v", p)
			}
		})
	}

	t.Run("rate limited carries retry-after", func(t *testing.T) {
		p := ProblemFor(&ratelimit.LimitExceededError{
			RetryAfter: 42 * time.Second,
			Max:        10,
		})
		if p.Status != http.StatusTooManyRequests {
			t.Errorf("Status = %d", p.Status)
		}
		if p.RetryAfterSeconds != 42 {
			t.Errorf("RetryAfterSeconds = %d", p.RetryAfterSeconds)
		}

		rec := httptest.NewRecorder()
		p.Render(rec)
		if rec.Header().Get("Retry-After") != "42" {
			t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("Content-Type = %q", ct)
		}
	})

	t.Run("sub-second retry rounds up", func(t *testing.T) {
		p := ProblemFor(&ratelimit.LimitExceededError{RetryAfter: 200 * time.Millisecond, Max: 10})
		if p.RetryAfterSeconds != 1 {
			t.Errorf("RetryAfterSeconds = %d, want 1", p.RetryAfterSeconds)
		}
	})
}

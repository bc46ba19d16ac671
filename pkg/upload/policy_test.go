package upload

import (
	"errors"
	"fmt"
	"testing"

	"github.com/wallpaperd/wallpaperd/pkg/probe"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

func imageResult(mime string, width, height int) *probe.Result {
	return &probe.Result{
		MIME:        mime,
		FileType:    wallpaper.FileTypeImage,
		Width:       width,
		Height:      height,
		AspectRatio: wallpaper.AspectRatioOf(width, height),
	}
}

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name    string
		res     *probe.Result
		size    int64
		wantErr error
	}{
		{"valid jpeg", imageResult("image/jpeg", 1920, 1080), 1024, nil},
		{"valid webp at minimum", imageResult("image/webp", 640, 480), 1024, nil},
		{"valid png at maximum", imageResult("image/png", 15360, 8640), 1024, nil},
		{"disallowed mime", imageResult("image/gif", 1920, 1080), 1024, ErrInvalidFormat},
		{"too narrow", imageResult("image/jpeg", 639, 1080), 1024, ErrDimensionsOutOfBounds},
		{"too short", imageResult("image/jpeg", 1920, 479), 1024, ErrDimensionsOutOfBounds},
		{"too wide", imageResult("image/jpeg", 15361, 1080), 1024, ErrDimensionsOutOfBounds},
		{"too tall", imageResult("image/jpeg", 1920, 8641), 1024, ErrDimensionsOutOfBounds},
		{"oversized", imageResult("image/jpeg", 1920, 1080), p.MaxBytesImage + 1, ErrFileTooLarge},
		{"video rejected", &probe.Result{MIME: "video/mp4", FileType: wallpaper.FileTypeVideo}, 1024, ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check(tt.res, tt.size)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Check: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Check = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("size error wins over dimension error", func(t *testing.T) {
		err := p.Check(imageResult("image/jpeg", 10, 10), p.MaxBytesImage+1)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})
}

func TestPolicyApplyDefaults(t *testing.T) {
	var p Policy
	p.ApplyDefaults()
	if p.MaxBytesImage != 50*1024*1024 {
		t.Errorf("MaxBytesImage = %d", p.MaxBytesImage)
	}
	if len(p.AllowedMIMEs) == 0 {
		t.Error("AllowedMIMEs should be populated")
	}

	t.Run("explicit values kept", func(t *testing.T) {
		p := Policy{MaxBytesImage: 1024, MinWidth: 1}
		p.ApplyDefaults()
		if p.MaxBytesImage != 1024 || p.MinWidth != 1 {
			t.Error("explicit values should survive ApplyDefaults")
		}
	})
}

func TestClassifyProbeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"unknown format", probe.ErrUnknownFormat, ErrInvalidFormat},
		{"pixel bomb", probe.ErrTooManyPixels, ErrDimensionsOutOfBounds},
		{"corrupt header", fmt.Errorf("failed to read image/png header: unexpected EOF"), ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyProbeError(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("classifyProbeError = %v, want %v", got, tt.want)
			}
		})
	}
}

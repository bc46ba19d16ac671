// Package probe detects the actual media type of uploaded bytes and
// extracts image dimensions.
//
// Detection never trusts the client's filename or declared content type;
// everything is derived from the bytes. Dimensions come from the image
// header only (DecodeConfig), and a pixel-count ceiling rejects
// decompression bombs before any full decode could happen downstream.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/webp"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// DefaultMaxPixels is the decompression-bomb ceiling: 64 megapixels covers
// every real monitor arrangement with headroom.
const DefaultMaxPixels = 64 * 1024 * 1024

// ErrUnknownFormat is returned for bytes that are neither a supported
// image nor a recognized video container.
var ErrUnknownFormat = errors.New("unrecognized file format")

// ErrTooManyPixels is returned when the declared dimensions exceed the
// pixel ceiling.
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

// Result describes the probed content.
type Result struct {
	MIME        string
	FileType    wallpaper.FileType
	Width       int
	Height      int
	AspectRatio float64
}

// Prober sniffs MIME types and image headers.
type Prober struct {
	maxPixels int64
}

// Option configures a Prober.
type Option func(*Prober)

// WithMaxPixels overrides the decompression-bomb ceiling.
func WithMaxPixels(n int64) Option {
	return func(p *Prober) { p.maxPixels = n }
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// imageConfigDecoders maps the supported image MIME types to their header
// decoders. DecodeConfig reads only the header, so oversized files cannot
// allocate pixel buffers here.
var imageConfigDecoders = map[string]func(*bytes.Reader) (image.Config, error){
	"image/jpeg": func(r *bytes.Reader) (image.Config, error) { return jpeg.DecodeConfig(r) },
	"image/png":  func(r *bytes.Reader) (image.Config, error) { return png.DecodeConfig(r) },
	"image/webp": func(r *bytes.Reader) (image.Config, error) { return webp.DecodeConfig(r) },
}

// Probe detects the MIME type from the byte content and, for images,
// extracts dimensions. Video containers are recognized and typed but carry
// no dimensions in this iteration.
func (p *Prober) Probe(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrUnknownFormat
	}

	mime := mimetype.Detect(data).String()
	// mimetype may append parameters ("; charset=..."); keep the bare type.
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	if decode, ok := imageConfigDecoders[mime]; ok {
		cfg, err := decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s header: %w", mime, err)
		}
		if int64(cfg.Width)*int64(cfg.Height) > p.maxPixels {
			return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
		}
		return &Result{
			MIME:        mime,
			FileType:    wallpaper.FileTypeImage,
			Width:       cfg.Width,
			Height:      cfg.Height,
			AspectRatio: wallpaper.AspectRatioOf(cfg.Width, cfg.Height),
		}, nil
	}

	if strings.HasPrefix(mime, "video/") {
		return &Result{
			MIME:     mime,
			FileType: wallpaper.FileTypeVideo,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, mime)
}

package upload

import (
	"errors"
	"fmt"

	"github.com/wallpaperd/wallpaperd/pkg/probe"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// Policy holds the per-user validation limits applied to uploads.
type Policy struct {
	// AllowedMIMEs are the accepted image MIME types.
	AllowedMIMEs []string `mapstructure:"allowed_mimes" yaml:"allowed_mimes"`

	// MaxBytesImage caps image uploads (default 50 MiB).
	MaxBytesImage int64 `mapstructure:"max_bytes_image" yaml:"max_bytes_image"`

	// MaxBytesVideo caps video uploads; carried for the future video path.
	MaxBytesVideo int64 `mapstructure:"max_bytes_video" yaml:"max_bytes_video"`

	MinWidth  int `mapstructure:"min_width" yaml:"min_width"`
	MinHeight int `mapstructure:"min_height" yaml:"min_height"`
	MaxWidth  int `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight int `mapstructure:"max_height" yaml:"max_height"`
}

// DefaultPolicy returns the stock wallpaper limits.
func DefaultPolicy() Policy {
	return Policy{
		AllowedMIMEs:  []string{"image/jpeg", "image/png", "image/webp"},
		MaxBytesImage: 50 * 1024 * 1024,
		MaxBytesVideo: 200 * 1024 * 1024,
		MinWidth:      640,
		MinHeight:     480,
		MaxWidth:      15360,
		MaxHeight:     8640,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultPolicy.
func (p *Policy) ApplyDefaults() {
	def := DefaultPolicy()
	if len(p.AllowedMIMEs) == 0 {
		p.AllowedMIMEs = def.AllowedMIMEs
	}
	if p.MaxBytesImage == 0 {
		p.MaxBytesImage = def.MaxBytesImage
	}
	if p.MaxBytesVideo == 0 {
		p.MaxBytesVideo = def.MaxBytesVideo
	}
	if p.MinWidth == 0 {
		p.MinWidth = def.MinWidth
	}
	if p.MinHeight == 0 {
		p.MinHeight = def.MinHeight
	}
	if p.MaxWidth == 0 {
		p.MaxWidth = def.MaxWidth
	}
	if p.MaxHeight == 0 {
		p.MaxHeight = def.MaxHeight
	}
}

// CheckSize validates only the byte size. It is applied before format
// checks so that an oversized file of unknown format still reports the
// size error, which is the more actionable one.
func (p *Policy) CheckSize(size int64) error {
	if size > p.MaxBytesImage {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, size, p.MaxBytesImage)
	}
	return nil
}

// Check validates a probed upload against the policy.
func (p *Policy) Check(res *probe.Result, size int64) error {
	if err := p.CheckSize(size); err != nil {
		return err
	}

	// Video bytes are recognized but not accepted in this iteration.
	if res.FileType == wallpaper.FileTypeVideo {
		return fmt.Errorf("%w: video uploads are not supported yet", ErrInvalidFormat)
	}

	allowed := false
	for _, m := range p.AllowedMIMEs {
		if m == res.MIME {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrInvalidFormat, res.MIME)
	}

	if res.Width < p.MinWidth || res.Height < p.MinHeight ||
		res.Width > p.MaxWidth || res.Height > p.MaxHeight {
		return fmt.Errorf("%w: %dx%d (allowed %dx%d to %dx%d)",
			ErrDimensionsOutOfBounds, res.Width, res.Height,
			p.MinWidth, p.MinHeight, p.MaxWidth, p.MaxHeight)
	}

	return nil
}

// classifyProbeError folds probe failures into the validation taxonomy.
func classifyProbeError(err error) error {
	if errors.Is(err, probe.ErrUnknownFormat) {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if errors.Is(err, probe.ErrTooManyPixels) {
		return fmt.Errorf("%w: %v", ErrDimensionsOutOfBounds, err)
	}
	// Corrupt headers of a recognized type read as an invalid format.
	return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
}

package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// bombPNG hand-crafts a PNG header declaring huge dimensions without
// carrying any pixel data. DecodeConfig only reads the IHDR chunk, so the
// declared size is all the prober sees.
func bombPNG(width, height uint32) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr)
	binary.Write(&buf, binary.BigEndian, crc.Sum32())

	return buf.Bytes()
}

// mp4Header is a minimal ftyp box, enough for MIME sniffing.
func mp4Header() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'm', 'p', '4', '1',
	}
}

func TestProbe(t *testing.T) {
	p := New()

	t.Run("jpeg", func(t *testing.T) {
		res, err := p.Probe(encodeJPEG(t, 1920, 1080))
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if res.MIME != "image/jpeg" {
			t.Errorf("MIME = %q", res.MIME)
		}
		if res.FileType != wallpaper.FileTypeImage {
			t.Errorf("FileType = %s", res.FileType)
		}
		if res.Width != 1920 || res.Height != 1080 {
			t.Errorf("dimensions = %dx%d", res.Width, res.Height)
		}
		if res.AspectRatio != 1.7778 {
			t.Errorf("AspectRatio = %v", res.AspectRatio)
		}
	})

	t.Run("png", func(t *testing.T) {
		res, err := p.Probe(encodePNG(t, 800, 600))
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if res.MIME != "image/png" {
			t.Errorf("MIME = %q", res.MIME)
		}
		if res.Width != 800 || res.Height != 600 {
			t.Errorf("dimensions = %dx%d", res.Width, res.Height)
		}
	})

	t.Run("ignores filename claims", func(t *testing.T) {
		// PNG bytes are PNG bytes regardless of what the client called them.
		res, err := p.Probe(encodePNG(t, 100, 100))
		if err != nil {
			t.Fatal(err)
		}
		if res.MIME != "image/png" {
			t.Errorf("MIME = %q", res.MIME)
		}
	})

	t.Run("video container typed without dimensions", func(t *testing.T) {
		res, err := p.Probe(mp4Header())
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if res.FileType != wallpaper.FileTypeVideo {
			t.Errorf("FileType = %s", res.FileType)
		}
		if res.Width != 0 || res.Height != 0 {
			t.Errorf("video dimensions should be zero, got %dx%d", res.Width, res.Height)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := p.Probe([]byte("this is plainly not an image"))
		if !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("expected ErrUnknownFormat, got %v", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if _, err := p.Probe(nil); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("expected ErrUnknownFormat, got %v", err)
		}
	})

	t.Run("truncated image header", func(t *testing.T) {
		data := encodePNG(t, 100, 100)[:20]
		if _, err := p.Probe(data); err == nil {
			t.Error("expected error for truncated header")
		}
	})
}

func TestProbe_PixelCeiling(t *testing.T) {
	t.Run("decompression bomb rejected", func(t *testing.T) {
		p := New()
		_, err := p.Probe(bombPNG(100000, 100000))
		if !errors.Is(err, ErrTooManyPixels) {
			t.Errorf("expected ErrTooManyPixels, got %v", err)
		}
	})

	t.Run("ceiling configurable", func(t *testing.T) {
		p := New(WithMaxPixels(1000))
		_, err := p.Probe(encodePNG(t, 100, 100))
		if !errors.Is(err, ErrTooManyPixels) {
			t.Errorf("expected ErrTooManyPixels, got %v", err)
		}
	})

	t.Run("at the limit passes", func(t *testing.T) {
		p := New(WithMaxPixels(10000))
		if _, err := p.Probe(encodePNG(t, 100, 100)); err != nil {
			t.Errorf("100x100 within 10000-pixel limit should pass: %v", err)
		}
	})
}

package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/andresmejia3/blinkauth/internal/autherr"
)

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxW, maxH   int
		wantW, wantH int
	}{
		{"already fits", 320, 240, 640, 480, 320, 240},
		{"exact", 640, 480, 640, 480, 640, 480},
		{"landscape 1080p", 1920, 1080, 640, 480, 640, 360},
		{"portrait into desktop", 1080, 1920, 640, 480, 270, 480},
		{"wide into square", 1280, 720, 480, 480, 480, 270},
		{"tall into square", 720, 1280, 480, 480, 270, 480},
		{"tiny sliver", 5000, 2, 640, 480, 640, 1},
		{"zero", 0, 10, 640, 480, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitWithin(%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestFitWithin_BoundsAndAspect(t *testing.T) {
	for w := 1; w <= 3000; w += 97 {
		for h := 1; h <= 3000; h += 89 {
			for _, p := range []Profile{Desktop, Constrained} {
				nw, nh := FitWithin(w, h, p.MaxWidth, p.MaxHeight)
				if nw > p.MaxWidth || nh > p.MaxHeight {
					t.Fatalf("%dx%d -> %dx%d exceeds %s", w, h, nw, nh, p.Name)
				}
				if nw > w || nh > h {
					t.Fatalf("%dx%d upscaled to %dx%d", w, h, nw, nh)
				}
				// Aspect within one pixel of rounding on either side.
				// Slivers clamped to one pixel cannot keep it.
				if nw <= 1 || nh <= 1 {
					continue
				}
				want := float64(w) / float64(h)
				lo := float64(max(nw-1, 1)) / float64(nh+1)
				hi := float64(nw+1) / float64(max(nh-1, 1))
				if want < lo || want > hi {
					t.Fatalf("%dx%d -> %dx%d distorts aspect", w, h, nw, nh)
				}
			}
		}
	}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func TestCompress(t *testing.T) {
	tests := []struct {
		name         string
		profile      Profile
		w, h         int
		wantW, wantH int
	}{
		{"desktop downscale", Desktop, 1280, 720, 640, 360},
		{"constrained downscale", Constrained, 640, 480, 480, 360},
		{"no upscale", Desktop, 200, 100, 200, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewCompressor(tt.profile, DefaultQuality).Compress(gradient(tt.w, tt.h))
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestCompressBytes(t *testing.T) {
	var src bytes.Buffer
	if err := png.Encode(&src, gradient(960, 960)); err != nil {
		t.Fatal(err)
	}

	out, err := NewCompressor(Constrained, 0).CompressBytes(src.Bytes())
	if err != nil {
		t.Fatalf("CompressBytes failed: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 480 || cfg.Height != 480 {
		t.Errorf("got %dx%d, want 480x480", cfg.Width, cfg.Height)
	}
}

func TestCompress_EncodingErrors(t *testing.T) {
	c := NewCompressor(Desktop, DefaultQuality)

	cases := map[string]func() error{
		"garbage bytes": func() error { _, err := c.CompressBytes([]byte("not an image")); return err },
		"empty image":   func() error { _, err := c.Compress(image.NewRGBA(image.Rect(0, 0, 0, 0))); return err },
		"nil image":     func() error { _, err := c.Compress(nil); return err },
	}
	for name, fn := range cases {
		err := fn()
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if k, _ := autherr.KindOf(err); k != autherr.KindEncoding {
			t.Errorf("%s: kind = %v, want encoding", name, k)
		}
		if autherr.IsTerminal(err) {
			t.Errorf("%s: encoding errors must not be terminal", name)
		}
	}
}

func TestProfileByName(t *testing.T) {
	for name, want := range map[string]Profile{"": Desktop, "Desktop": Desktop, "constrained": Constrained, "mobile": Constrained} {
		got, err := ProfileByName(name)
		if err != nil || got != want {
			t.Errorf("ProfileByName(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ProfileByName("tablet"); err == nil {
		t.Error("expected error for unknown profile")
	}
	if math.Abs(float64(Desktop.MaxWidth)/float64(Desktop.MaxHeight)-4.0/3) > 1e-9 {
		t.Error("desktop profile must be 4:3")
	}
}

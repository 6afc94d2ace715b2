package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultQuality matches a 0.8 canvas JPEG quality.
const DefaultQuality = 80

// Profile bounds the uploaded image and the camera request.
type Profile struct {
	Name      string
	MaxWidth  int
	MaxHeight int
}

var (
	Desktop     = Profile{Name: "desktop", MaxWidth: 640, MaxHeight: 480}
	Constrained = Profile{Name: "constrained", MaxWidth: 480, MaxHeight: 480}
)

// ProfileByName looks up a built-in profile.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Desktop.Name:
		return Desktop, nil
	case Constrained.Name, "mobile":
		return Constrained, nil
	default:
		return Profile{}, fmt.Errorf("unknown capture profile %q", name)
	}
}

// Compressor resizes and re-encodes captures as JPEG.
type Compressor struct {
	profile Profile
	quality int
}

func NewCompressor(p Profile, quality int) *Compressor {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Compressor{profile: p, quality: quality}
}

// Compress fits img inside the profile bounds, keeping its aspect ratio,
// and encodes it as JPEG. Images are never upscaled.
func (c *Compressor) Compress(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, autherr.Encoding("compress", errors.New("no image"))
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, autherr.Encoding("compress", errors.New("empty image"))
	}

	w, h := FitWithin(bounds.Dx(), bounds.Dy(), c.profile.MaxWidth, c.profile.MaxHeight)

	src := img
	if w != bounds.Dx() || h != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Src, nil)
		src = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, autherr.Encoding("encode jpeg", err)
	}
	return buf.Bytes(), nil
}

// CompressBytes decodes an encoded image and compresses it.
func (c *Compressor) CompressBytes(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, autherr.Encoding("decode image", err)
	}
	return c.Compress(img)
}

// FitWithin scales w x h down to fit maxW x maxH. It never scales up and
// never returns a zero dimension.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := 1.0
	if maxW > 0 {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale >= 1 {
		return w, h
	}
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return nw, nh
}

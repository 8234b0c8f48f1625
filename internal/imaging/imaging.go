// Package imaging shrinks uploaded photos and archives them per user.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// URLPrefix is where archived images are served from.
const URLPrefix = "/images/"

// ErrTooManyPixels is reported when an image header describes more pixels than allowed.
var ErrTooManyPixels = errors.New("image has too many pixels")

// DimensionError carries the size of a rejected image.
type DimensionError struct {
	Width, Height, MaxPixels int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("image is %dx%d, limit is %d pixels", e.Width, e.Height, e.MaxPixels)
}

func (e *DimensionError) Unwrap() error { return ErrTooManyPixels }

// CheckDimensions reads only the image header and rejects images whose
// width*height exceeds maxPixels. maxPixels <= 0 disables the check.
func CheckDimensions(data []byte, maxPixels int) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return cfg, fmt.Errorf("decode image header: %w", err)
	}
	if maxPixels > 0 && (cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height) {
		return cfg, &DimensionError{Width: cfg.Width, Height: cfg.Height, MaxPixels: maxPixels}
	}
	return cfg, nil
}

// Compress decodes data (jpeg, png, gif or webp), scales it down to maxWidth
// keeping the aspect ratio, and re-encodes it as JPEG at quality (1-100).
// Images narrower than maxWidth are re-encoded without scaling. Images above
// maxPixels are rejected before decoding.
func Compress(data []byte, maxWidth, maxPixels, quality int) ([]byte, error) {
	if _, err := CheckDimensions(data, maxPixels); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	dst := image.Image(src)
	if maxWidth > 0 && b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Over, nil)
		dst = scaled
	}

	// JPEG has no alpha; flatten transparent pixels onto white.
	flat := image.NewRGBA(dst.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), dst, dst.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return jpeg.DefaultQuality
	case q > 100:
		return 100
	}
	return q
}

// Store writes archived images below a root directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory images are written to.
func (s *Store) Root() string {
	return s.root
}

// Save writes data as <uid>/<uuid>.jpg and returns its public URL.
func (s *Store) Save(uid string, data []byte) (string, error) {
	dir, err := safeSegment(uid)
	if err != nil {
		return "", err
	}
	name := uuid.New().String() + ".jpg"

	full := filepath.Join(s.root, dir)
	if err := os.MkdirAll(full, 0700); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(full, name), data, 0600); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return URLPrefix + path.Join(dir, name), nil
}

// safeSegment rejects user ids that would escape the images root.
func safeSegment(uid string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" || uid == "." || uid == ".." || strings.ContainsAny(uid, `/\`) || strings.ContainsRune(uid, 0) {
		return "", fmt.Errorf("invalid user id for image path: %q", uid)
	}
	return uid, nil
}

package loader

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/IvanBrykalov/imgcache/key"
)

// PlaceholderID identifies the built-in placeholder.
const PlaceholderID = "placeholder:unavailable"

// maxPixels rejects payloads whose header claims absurd dimensions before
// the full decode allocates for them.
const maxPixels = 64 << 20

// ErrTooLarge is the cause of a DecodeError for oversized dimensions.
var ErrTooLarge = errors.New("image dimensions too large")

// Image is a decoded image together with the bytes it was decoded from.
// Images are shared between callers and must not be modified.
type Image struct {
	Key    key.Key
	Image  image.Image
	Format string // "png", "jpeg", ...
	Raw    []byte

	// Placeholder is set on the substitute returned for a failed load.
	Placeholder bool

	// fromBlob marks an image decoded from the blob tier, which already
	// holds its bytes.
	fromBlob bool
}

// Size estimates the memory held by img: raw bytes plus 4 bytes per pixel.
func (img *Image) Size() int64 {
	if img == nil {
		return 0
	}
	n := int64(len(img.Raw))
	if img.Image != nil {
		b := img.Image.Bounds()
		n += int64(b.Dx()) * int64(b.Dy()) * 4
	}
	return n
}

// Bounds returns the pixel bounds, or an empty rectangle.
func (img *Image) Bounds() image.Rectangle {
	if img == nil || img.Image == nil {
		return image.Rectangle{}
	}
	return img.Image.Bounds()
}

// Decode turns raw bytes into an Image using the registered decoders.
func Decode(k key.Key, raw []byte) (*Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	m, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &Image{Key: k, Image: m, Format: format, Raw: raw}, nil
}

// DefaultPlaceholder draws the built-in placeholder: a grey square with a
// diagonal cross.
func DefaultPlaceholder() *Image {
	const size = 64
	bg := color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	fg := color.RGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff}

	m := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := bg
			if x == y || x == size-1-y || x == 0 || y == 0 || x == size-1 || y == size-1 {
				c = fg
			}
			m.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, m) // encoding an in-memory RGBA cannot fail
	return &Image{
		Key:         key.Key(PlaceholderID),
		Image:       m,
		Format:      "png",
		Raw:         buf.Bytes(),
		Placeholder: true,
	}
}

// LoadPlaceholder reads a placeholder image from a local file.
func LoadPlaceholder(path string) (*Image, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("loader: read placeholder: %w", err)
	}
	img, err := Decode(key.Key(PlaceholderID), raw)
	if err != nil {
		return nil, fmt.Errorf("loader: decode placeholder %s: %w", path, err)
	}
	img.Placeholder = true
	return img, nil
}

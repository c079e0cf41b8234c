// Package thumbnail renders JPEG thumbnails of still images.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
)

// OutputMIME is the type of every rendered thumbnail.
const OutputMIME = "image/jpeg"

// ErrUnsupportedMIMEType is returned for sources the renderer cannot decode.
var ErrUnsupportedMIMEType = errors.New("unsupported MIME type")

// Renderer produces a thumbnail of src that fits inside size.
type Renderer interface {
	Render(ctx context.Context, src io.Reader, mimeType string, size models.Size, dst io.Writer) error
}

//nolint:gochecknoglobals
var decoders = map[string]func(io.Reader) (image.Image, error){
	"image/jpeg": jpeg.Decode,
	"image/png":  png.Decode,
	"image/gif":  gif.Decode,
	"image/tiff": tiff.Decode,
	"image/bmp":  bmp.Decode,
	"image/webp": webp.Decode,
}

// Supports reports whether mimeType can be rendered.
func Supports(mimeType string) bool {
	_, ok := decoders[normalize(mimeType)]
	return ok
}

func normalize(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// ImageRenderer scales with an x/image interpolator and encodes JPEG.
type ImageRenderer struct {
	Interpolator draw.Interpolator
	Quality      int
}

func NewImageRenderer() *ImageRenderer {
	return &ImageRenderer{Interpolator: draw.CatmullRom, Quality: 85}
}

func (r *ImageRenderer) Render(ctx context.Context, src io.Reader, mimeType string, size models.Size, dst io.Writer) error {
	if !size.Valid() {
		return fmt.Errorf("invalid thumbnail size %s", size)
	}

	decode, ok := decoders[normalize(mimeType)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedMIMEType, mimeType)
	}

	original, err := decode(src)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := original.Bounds()
	fit := Fit(models.Size{Width: b.Dx(), Height: b.Dy()}, size)
	bitmap := image.NewRGBA(image.Rect(0, 0, fit.Width, fit.Height))
	r.Interpolator.Scale(bitmap, bitmap.Bounds(), original, b, draw.Src, nil)

	if err := jpeg.Encode(dst, bitmap, &jpeg.Options{Quality: r.Quality}); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}

// Fit scales src down to fit inside box keeping its aspect ratio. Images
// already inside the box are left at their size.
func Fit(src, box models.Size) models.Size {
	if !src.Valid() {
		return box
	}
	if src.Width <= box.Width && src.Height <= box.Height {
		return src
	}

	ratio := min(float64(box.Width)/float64(src.Width), float64(box.Height)/float64(src.Height))
	return models.Size{
		Width:  max(1, int(float64(src.Width)*ratio)),
		Height: max(1, int(float64(src.Height)*ratio)),
	}
}

// DecodeConfig reads the pixel dimensions of an image without decoding it.
func DecodeConfig(src io.Reader, mimeType string) (models.Size, error) {
	var (
		cfg image.Config
		err error
	)
	switch normalize(mimeType) {
	case "image/jpeg":
		cfg, err = jpeg.DecodeConfig(src)
	case "image/png":
		cfg, err = png.DecodeConfig(src)
	case "image/gif":
		cfg, err = gif.DecodeConfig(src)
	case "image/tiff":
		cfg, err = tiff.DecodeConfig(src)
	case "image/bmp":
		cfg, err = bmp.DecodeConfig(src)
	case "image/webp":
		cfg, err = webp.DecodeConfig(src)
	default:
		return models.Size{}, fmt.Errorf("%w: %q", ErrUnsupportedMIMEType, mimeType)
	}
	if err != nil {
		return models.Size{}, fmt.Errorf("decode config: %w", err)
	}
	return models.Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// Package imageproc turns uploaded image bytes into the normalized
// (1, 224, 224, 3) tensor consumed by predictors.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var errEmptyInput = errors.New("empty image data")

// Decoded is a decoded upload together with what the source encoding said
// about its layout.
type Decoded struct {
	Image    image.Image
	Format   string
	Width    int
	Height   int
	Channels int
}

type DecodeOptions struct {
	// AutoOrient applies the EXIF orientation tag before resizing.
	AutoOrient bool
}

// Decode parses raw bytes as any registered image format.
func Decode(data []byte, opts DecodeOptions) (*Decoded, error) {
	if len(data) == 0 {
		return nil, errEmptyInput
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read image header: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(opts.AutoOrient))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("decode %s: image has no pixels", format)
	}

	return &Decoded{
		Image:    img,
		Format:   format,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: sourceChannels(format, data, cfg.ColorModel),
	}, nil
}

// Channels reports how many channels an encoding with the given color model
// carries when the container header says nothing more specific. Paletted
// images count as a single index channel. Zero means the model is not
// recognized.
func Channels(m color.Model) int {
	if _, ok := m.(color.Palette); ok {
		return 1
	}
	switch m {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return 1
	case color.RGBAModel, color.RGBA64Model, color.YCbCrModel:
		return 3
	case color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel, color.CMYKModel:
		return 4
	}
	return 0
}

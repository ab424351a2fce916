package imageproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/nfnt/resize"
)

// Fixed input contract of the analysis pipeline.
const (
	TargetWidth    = 224
	TargetHeight   = 224
	TargetChannels = 3
	PixelScale     = 255.0
)

// TensorSize is the element count of a (1, 224, 224, 3) tensor.
const TensorSize = TargetHeight * TargetWidth * TargetChannels

var ErrShape = errors.New("cannot reshape")

// Tensor is a dense float32 array in NHWC order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// InputShape returns the (1, 224, 224, 3) shape every tensor is built with.
func InputShape() []int64 {
	return []int64{1, TargetHeight, TargetWidth, TargetChannels}
}

// NewTensor wraps data, checking it against shape.
func NewTensor(data []float32, shape []int64) (*Tensor, error) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if int64(len(data)) != n {
		return nil, fmt.Errorf("%w array of size %d into shape %s", ErrShape, len(data), formatShape(shape))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Resize scales img to exactly width×height. Aspect ratio is not kept.
func Resize(img image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), img, resize.Bicubic)
}

// Normalize flattens img into HWC float32 values in [0, 1], one value per
// channel of the source layout: gray, gray with alpha, RGB or RGBA. Values
// are taken unpremultiplied, as stored in the source.
func Normalize(img image.Image, channels int) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := make([]float32, 0, width*height*channels)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			switch channels {
			case 1:
				out = append(out, scale(luma(c)))
			case 2:
				out = append(out, scale(luma(c)), scale(c.A))
			case 4:
				out = append(out, scale(c.R), scale(c.G), scale(c.B), scale(c.A))
			default:
				out = append(out, scale(c.R), scale(c.G), scale(c.B))
			}
		}
	}
	return out
}

// Preprocess runs resize, normalize and reshape on a decoded upload.
func Preprocess(d *Decoded) (*Tensor, error) {
	if d.Channels < 1 || d.Channels > 4 {
		return nil, fmt.Errorf("%w: unsupported color layout for %s image", ErrShape, d.Format)
	}

	img := d.Image
	if d.Channels == 1 || d.Channels == 3 {
		img = dropAlpha(img)
	}

	resized := Resize(img, TargetWidth, TargetHeight)
	values := Normalize(resized, d.Channels)

	return NewTensor(values, InputShape())
}

// dropAlpha makes every pixel opaque, keeping the stored color of
// transparent ones. Layouts without an alpha channel ignore it entirely.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

func scale(v uint8) float32 {
	return float32(v) / PixelScale
}

// luma uses the ITU-R 601-2 weights.
func luma(c color.NRGBA) uint8 {
	return uint8((299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B) + 500) / 1000)
}

func formatShape(shape []int64) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	return "(" + strings.Join(dims, ",") + ")"
}

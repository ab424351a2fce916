package imageproc

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// 1×1 lossless WebP with the alpha_is_used bit set.
const losslessAlphaWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func losslessWebP(t *testing.T, alpha bool) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(losslessAlphaWebP)
	require.NoError(t, err)
	if !alpha {
		data[24] &^= 0x10
	}
	return data
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func tensorAt(tensor *Tensor, n, y, x, c int) float32 {
	h, w, ch := int(tensor.Shape[1]), int(tensor.Shape[2]), int(tensor.Shape[3])
	return tensor.Data[((n*h+y)*w+x)*ch+c]
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodeBMP(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))
	return buf.Bytes()
}

func encodeTIFF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

// rgbTIFF builds an uncompressed 8-bit RGB TIFF with three samples per pixel,
// a layout the x/image encoder never writes.
func rgbTIFF(w, h int, c color.RGBA) []byte {
	le := binary.LittleEndian
	const entries = 9
	bpsOffset := 8 + 2 + entries*12 + 4
	pixOffset := bpsOffset + 6

	buf := make([]byte, pixOffset, pixOffset+w*h*3)
	copy(buf, "II\x2a\x00")
	le.PutUint32(buf[4:], 8)
	le.PutUint16(buf[8:], entries)

	entry := func(i int, tag, typ uint16, count, value uint32) {
		e := buf[10+i*12:]
		le.PutUint16(e[0:], tag)
		le.PutUint16(e[2:], typ)
		le.PutUint32(e[4:], count)
		if typ == 3 && count == 1 {
			le.PutUint16(e[8:], uint16(value))
		} else {
			le.PutUint32(e[8:], value)
		}
	}
	entry(0, 256, 3, 1, uint32(w))         // ImageWidth
	entry(1, 257, 3, 1, uint32(h))         // ImageLength
	entry(2, 258, 3, 3, uint32(bpsOffset)) // BitsPerSample
	entry(3, 259, 3, 1, 1)                 // Compression: none
	entry(4, 262, 3, 1, 2)                 // PhotometricInterpretation: RGB
	entry(5, 273, 4, 1, uint32(pixOffset)) // StripOffsets
	entry(6, 277, 3, 1, 3)                 // SamplesPerPixel
	entry(7, 278, 3, 1, uint32(h))         // RowsPerStrip
	entry(8, 279, 4, 1, uint32(w*h*3))     // StripByteCounts
	for i := 0; i < 3; i++ {
		le.PutUint16(buf[bpsOffset+2*i:], 8)
	}

	for i := 0; i < w*h; i++ {
		buf = append(buf, c.R, c.G, c.B)
	}
	return buf
}

// bmpV4 builds a bottom-up 32-bit BMP with a BITMAPV4HEADER and BGRA masks.
// compression is BI_RGB (0) or BI_BITFIELDS (3).
func bmpV4(w, h int, compression uint32, c color.NRGBA) []byte {
	le := binary.LittleEndian
	const headerLen = 14 + 108

	buf := make([]byte, headerLen, headerLen+w*h*4)
	copy(buf, "BM")
	le.PutUint32(buf[2:], uint32(headerLen+w*h*4))
	le.PutUint32(buf[10:], headerLen)
	le.PutUint32(buf[14:], 108)
	le.PutUint32(buf[18:], uint32(w))
	le.PutUint32(buf[22:], uint32(h))
	le.PutUint16(buf[26:], 1)
	le.PutUint16(buf[28:], 32)
	le.PutUint32(buf[30:], compression)
	le.PutUint32(buf[34:], uint32(w*h*4))
	le.PutUint32(buf[54:], 0x00ff0000)
	le.PutUint32(buf[58:], 0x0000ff00)
	le.PutUint32(buf[62:], 0x000000ff)
	le.PutUint32(buf[66:], 0xff000000)

	for i := 0; i < w*h; i++ {
		buf = append(buf, c.B, c.G, c.R, c.A)
	}
	return buf
}

// withPNGChunk inserts a chunk right after IHDR.
func withPNGChunk(data []byte, typ string, payload []byte) []byte {
	const ihdrEnd = 8 + 4 + 4 + 13 + 4

	chunk := make([]byte, 8, 12+len(payload))
	binary.BigEndian.PutUint32(chunk[0:], uint32(len(payload)))
	copy(chunk[4:], typ)
	chunk = append(chunk, payload...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	out := append([]byte{}, data[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, data[ihdrEnd:]...)
}

// withExifOrientation inserts an APP1 Exif segment carrying only the
// orientation tag right after the JPEG SOI marker.
func withExifOrientation(data []byte, orientation uint16) []byte {
	be := binary.BigEndian

	exif := []byte("Exif\x00\x00MM\x00\x2a")
	exif = be.AppendUint32(exif, 8)           // IFD offset
	exif = be.AppendUint16(exif, 1)           // entry count
	exif = be.AppendUint16(exif, 0x0112)      // Orientation
	exif = be.AppendUint16(exif, 3)           // SHORT
	exif = be.AppendUint32(exif, 1)           // count
	exif = be.AppendUint16(exif, orientation) // value
	exif = be.AppendUint16(exif, 0)           // padding
	exif = be.AppendUint32(exif, 0)           // next IFD

	segment := []byte{0xff, 0xe1}
	segment = be.AppendUint16(segment, uint16(len(exif)+2))
	segment = append(segment, exif...)

	out := append([]byte{}, data[:2]...)
	out = append(out, segment...)
	return append(out, data[2:]...)
}

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func translucentNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 200, B: 30, A: 128})
		}
	}
	return img
}

func grayImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 120
	}
	return img
}

func palettedImage(w, h int) *image.Paletted {
	palette := color.Palette{color.Black, color.White, color.RGBA{R: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
	for i := range img.Pix {
		img.Pix[i] = uint8(i % len(palette))
	}
	return img
}

func TestDecode(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	leaf := color.NRGBA{R: 40, G: 160, B: 60, A: 200}

	tests := []struct {
		name     string
		data     []byte
		format   string
		channels int
	}{
		{
			name:     "rgb png",
			data:     encodePNG(t, solidRGBA(10, 10, red)),
			format:   "png",
			channels: 3,
		},
		{
			name:     "rgb png with transparent color key",
			data:     withPNGChunk(encodePNG(t, solidRGBA(10, 10, red)), "tRNS", []byte{0, 0, 0, 0, 0, 1}),
			format:   "png",
			channels: 3,
		},
		{
			name:     "rgb jpeg",
			data:     encodeJPEG(t, solidRGBA(32, 16, red)),
			format:   "jpeg",
			channels: 3,
		},
		{
			name:     "grayscale png",
			data:     encodePNG(t, grayImage(8, 8)),
			format:   "png",
			channels: 1,
		},
		{
			name:     "grayscale jpeg",
			data:     encodeJPEG(t, grayImage(8, 8)),
			format:   "jpeg",
			channels: 1,
		},
		{
			name:     "rgba png",
			data:     encodePNG(t, translucentNRGBA(8, 8)),
			format:   "png",
			channels: 4,
		},
		{
			name:     "paletted png",
			data:     encodePNG(t, palettedImage(8, 8)),
			format:   "png",
			channels: 1,
		},
		{
			name:     "gif",
			data:     encodeGIF(t, palettedImage(8, 8)),
			format:   "gif",
			channels: 1,
		},
		{
			name:     "24-bit bmp",
			data:     encodeBMP(t, solidRGBA(9, 7, red)),
			format:   "bmp",
			channels: 3,
		},
		{
			name:     "8-bit bmp",
			data:     encodeBMP(t, grayImage(8, 8)),
			format:   "bmp",
			channels: 1,
		},
		{
			name:     "32-bit bmp without v4 header",
			data:     encodeBMP(t, translucentNRGBA(8, 8)),
			format:   "bmp",
			channels: 3,
		},
		{
			name:     "32-bit bmp v4 bitfields",
			data:     bmpV4(6, 4, 3, leaf),
			format:   "bmp",
			channels: 4,
		},
		{
			name:     "32-bit bmp v4 uncompressed",
			data:     bmpV4(6, 4, 0, leaf),
			format:   "bmp",
			channels: 3,
		},
		{
			name:     "rgb tiff",
			data:     rgbTIFF(5, 3, red),
			format:   "tiff",
			channels: 3,
		},
		{
			name:     "rgba tiff",
			data:     encodeTIFF(t, solidRGBA(5, 3, red)),
			format:   "tiff",
			channels: 4,
		},
		{
			name:     "grayscale tiff",
			data:     encodeTIFF(t, grayImage(5, 3)),
			format:   "tiff",
			channels: 1,
		},
		{
			name:     "lossy webp",
			data:     readTestdata(t, "blue-purple-pink.lossy.webp"),
			format:   "webp",
			channels: 3,
		},
		{
			name:     "lossy webp with alpha",
			data:     readTestdata(t, "yellow_rose.lossy-with-alpha.webp"),
			format:   "webp",
			channels: 4,
		},
		{
			name:     "lossless webp",
			data:     readTestdata(t, "gopher-doc.1bpp.lossless.webp"),
			format:   "webp",
			channels: 3,
		},
		{
			name:     "lossless webp opaque",
			data:     losslessWebP(t, false),
			format:   "webp",
			channels: 3,
		},
		{
			name:     "lossless webp with alpha",
			data:     losslessWebP(t, true),
			format:   "webp",
			channels: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.data, DecodeOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.format, d.Format)
			assert.Equal(t, tt.channels, d.Channels)
			assert.Equal(t, d.Image.Bounds().Dx(), d.Width)
			assert.Equal(t, d.Image.Bounds().Dy(), d.Height)

			tensor, err := Preprocess(d)
			if tt.channels == TargetChannels {
				require.NoError(t, err)
				assert.Len(t, tensor.Data, TensorSize)
			} else {
				assert.ErrorIs(t, err, ErrShape)
			}
		})
	}
}

func TestDecodeAutoOrient(t *testing.T) {
	data := withExifOrientation(encodeJPEG(t, solidRGBA(40, 20, color.RGBA{G: 255, A: 255})), 6)

	tests := []struct {
		name          string
		autoOrient    bool
		width, height int
	}{
		{name: "tag ignored", autoOrient: false, width: 40, height: 20},
		{name: "rotated upright", autoOrient: true, width: 20, height: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(data, DecodeOptions{AutoOrient: tt.autoOrient})
			require.NoError(t, err)
			assert.Equal(t, tt.width, d.Width)
			assert.Equal(t, tt.height, d.Height)
			assert.Equal(t, 3, d.Channels)
		})
	}
}

func TestDecodeBMPKeepsSourceColor(t *testing.T) {
	d, err := Decode(bmpV4(2, 2, 0, color.NRGBA{R: 255, A: 0}), DecodeOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, d.Channels)

	tensor, err := Preprocess(d)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tensorAt(tensor, 0, 100, 100, 0), 1e-6)
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	valid := encodePNG(t, solidRGBA(20, 20, color.RGBA{G: 255, A: 255}))

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "text", data: []byte("not an image")},
		{name: "random bytes", data: []byte{0x01, 0x7f, 0x33, 0x90, 0x00, 0xfe, 0x12}},
		{name: "truncated png", data: valid[:len(valid)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.data, DecodeOptions{})
			assert.Error(t, err)
			assert.Nil(t, d)
			if len(tt.data) == 0 {
				assert.ErrorIs(t, err, errEmptyInput)
			}
		})
	}
}

func TestPreprocessProducesFixedShape(t *testing.T) {
	sizes := []struct {
		name string
		w, h int
	}{
		{name: "tiny", w: 10, h: 10},
		{name: "landscape", w: 640, h: 200},
		{name: "portrait", w: 90, h: 500},
		{name: "already target", w: TargetWidth, h: TargetHeight},
	}

	for _, sz := range sizes {
		t.Run(sz.name, func(t *testing.T) {
			d, err := Decode(encodePNG(t, solidRGBA(sz.w, sz.h, color.RGBA{R: 40, G: 80, B: 160, A: 255})), DecodeOptions{})
			require.NoError(t, err)

			tensor, err := Preprocess(d)
			require.NoError(t, err)

			assert.Equal(t, []int64{1, 224, 224, 3}, tensor.Shape)
			require.Len(t, tensor.Data, TensorSize)
			for _, v := range tensor.Data {
				require.GreaterOrEqual(t, v, float32(0))
				require.LessOrEqual(t, v, float32(1))
			}
		})
	}
}

func TestPreprocessSolidRed(t *testing.T) {
	d, err := Decode(encodePNG(t, solidRGBA(10, 10, color.RGBA{R: 255, A: 255})), DecodeOptions{})
	require.NoError(t, err)

	tensor, err := Preprocess(d)
	require.NoError(t, err)

	for _, p := range [][2]int{{0, 0}, {112, 112}, {223, 223}, {0, 223}} {
		assert.InDelta(t, 1.0, tensorAt(tensor, 0, p[0], p[1], 0), 1e-6)
		assert.InDelta(t, 0.0, tensorAt(tensor, 0, p[0], p[1], 1), 1e-6)
		assert.InDelta(t, 0.0, tensorAt(tensor, 0, p[0], p[1], 2), 1e-6)
	}
}

func TestPreprocessRejectsNonRGBLayouts(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "grayscale", data: encodePNG(t, grayImage(16, 16))},
		{name: "rgba", data: encodePNG(t, translucentNRGBA(16, 16))},
		{name: "paletted", data: encodePNG(t, palettedImage(16, 16))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.data, DecodeOptions{})
			require.NoError(t, err)

			tensor, err := Preprocess(d)
			assert.ErrorIs(t, err, ErrShape)
			assert.Nil(t, tensor)
		})
	}
}

func TestPreprocessUnknownLayout(t *testing.T) {
	d := &Decoded{Image: solidRGBA(4, 4, color.RGBA{A: 255}), Format: "png", Width: 4, Height: 4}

	_, err := Preprocess(d)
	assert.ErrorIs(t, err, ErrShape)
}

func TestNewTensor(t *testing.T) {
	_, err := NewTensor(make([]float32, 6), []int64{1, 2, 3})
	assert.NoError(t, err)

	_, err = NewTensor(make([]float32, 224*224), InputShape())
	require.ErrorIs(t, err, ErrShape)
	assert.Contains(t, err.Error(), "size 50176 into shape (1,224,224,3)")
}

func TestResizeIgnoresAspectRatio(t *testing.T) {
	resized := Resize(solidRGBA(300, 100, color.RGBA{B: 255, A: 255}), TargetWidth, TargetHeight)

	assert.Equal(t, TargetWidth, resized.Bounds().Dx())
	assert.Equal(t, TargetHeight, resized.Bounds().Dy())
}

func TestChannels(t *testing.T) {
	tests := []struct {
		name  string
		model color.Model
		want  int
	}{
		{name: "gray", model: color.GrayModel, want: 1},
		{name: "palette", model: color.Palette{color.White}, want: 1},
		{name: "rgba", model: color.RGBAModel, want: 3},
		{name: "ycbcr", model: color.YCbCrModel, want: 3},
		{name: "nrgba", model: color.NRGBAModel, want: 4},
		{name: "cmyk", model: color.CMYKModel, want: 4},
		{name: "nycbcra", model: color.NYCbCrAModel, want: 4},
		{name: "unknown", model: color.ModelFunc(func(c color.Color) color.Color { return c }), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Channels(tt.model))
		})
	}
}

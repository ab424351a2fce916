package imageproc

import (
	"encoding/binary"
	"image/color"
)

// sourceChannels reports the channel count of the encoded image. The color
// model from image.DecodeConfig is not enough for every container: lossless
// WebP always reports NRGBA, PNG with a tRNS chunk reports NRGBA for RGB data,
// TIFF reports RGBA with and without an alpha sample, and 32-bit BMP reports
// RGBA even when the header declares an alpha mask. Those formats are read
// from their headers instead.
func sourceChannels(format string, data []byte, m color.Model) int {
	var (
		n  int
		ok bool
	)
	switch format {
	case "png":
		n, ok = pngChannels(data)
	case "webp":
		n, ok = webpChannels(data)
	case "tiff":
		n, ok = tiffChannels(data)
	case "bmp":
		n, ok = bmpChannels(data)
	}
	if ok {
		return n
	}
	return Channels(m)
}

// pngChannels reads the IHDR color type.
func pngChannels(data []byte) (int, bool) {
	if len(data) < 26 || string(data[12:16]) != "IHDR" {
		return 0, false
	}
	switch data[25] {
	case 0, 3: // gray, palette
		return 1, true
	case 2:
		return 3, true
	case 4:
		return 2, true
	case 6:
		return 4, true
	}
	return 0, false
}

// webpChannels reads the alpha flag of the first chunk: the VP8X feature
// flags or the alpha_is_used bit of a VP8L header. Plain VP8 has no alpha.
func webpChannels(data []byte) (int, bool) {
	if len(data) < 21 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return 0, false
	}
	const alphaBit = 1 << 4

	var flags byte
	switch string(data[12:16]) {
	case "VP8 ":
		return 3, true
	case "VP8X":
		flags = data[20]
	case "VP8L":
		if len(data) < 25 || data[20] != 0x2f {
			return 0, false
		}
		flags = data[24]
	default:
		return 0, false
	}
	if flags&alphaBit != 0 {
		return 4, true
	}
	return 3, true
}

const (
	tiffSamplesPerPixel = 277
	tiffShort           = 3
)

// tiffChannels reads SamplesPerPixel from the first IFD.
func tiffChannels(data []byte) (int, bool) {
	if len(data) < 8 {
		return 0, false
	}
	var order binary.ByteOrder
	switch string(data[0:4]) {
	case "II\x2a\x00":
		order = binary.LittleEndian
	case "MM\x00\x2a":
		order = binary.BigEndian
	default:
		return 0, false
	}

	offset := int64(order.Uint32(data[4:8]))
	if offset+2 > int64(len(data)) {
		return 0, false
	}
	count := int64(order.Uint16(data[offset:]))
	entries := data[offset+2:]
	if count*12 > int64(len(entries)) {
		return 0, false
	}
	for i := int64(0); i < count; i++ {
		e := entries[i*12 : i*12+12]
		if order.Uint16(e[0:2]) != tiffSamplesPerPixel {
			continue
		}
		if order.Uint16(e[2:4]) != tiffShort {
			return 0, false
		}
		return int(order.Uint16(e[8:10])), true
	}
	// the tag defaults to 1
	return 1, true
}

// bmpChannels only answers for 32-bit bitmaps with a V4 or later header,
// where BI_BITFIELDS with a non-zero alpha mask means BGRA. Everything else
// follows the color model.
func bmpChannels(data []byte) (int, bool) {
	const (
		fileHeaderLen = 14
		infoHeaderLen = 40
		biBitfields   = 3
	)
	if len(data) < fileHeaderLen+infoHeaderLen+16 || string(data[0:2]) != "BM" {
		return 0, false
	}
	infoLen := binary.LittleEndian.Uint32(data[14:18])
	bpp := binary.LittleEndian.Uint16(data[28:30])
	compression := binary.LittleEndian.Uint32(data[30:34])
	if infoLen <= infoHeaderLen || bpp != 32 || compression != biBitfields {
		return 0, false
	}
	if binary.LittleEndian.Uint32(data[66:70]) != 0 {
		return 4, true
	}
	return 3, true
}

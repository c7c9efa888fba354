package ctscan

import (
	"bytes"
	"image"
	"image/jpeg"
	"strings"

	"github.com/pkg/errors"

	"github.com/covasquezv/go-ctscan/sopclass"
)

// Compression selects how pixel data is stored in a written series.
type Compression int

const (
	// CompressionNone stores native pixels in Explicit VR Little Endian.
	CompressionNone Compression = iota
	// CompressionJPEG stores each 8-bit slice as an encapsulated baseline
	// JPEG frame. 16-bit volumes are written uncompressed.
	CompressionJPEG
)

// DefaultJPEGQuality is used when WriteParams.JPEGQuality is unset.
const DefaultJPEGQuality = 95

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionJPEG:
		return "jpeg"
	}
	return "unknown"
}

// ParseCompression parses "none" (or "") and "jpeg".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "jpeg", "jpg":
		return CompressionJPEG, nil
	}
	return CompressionNone, errors.Errorf("unknown compression %q", s)
}

func (c Compression) transferSyntax() string {
	if c == CompressionJPEG {
		return sopclass.JPEGBaseline
	}
	return sopclass.ExplicitVRLittleEndian
}

// encodeJPEG compresses one 8-bit slice with one (gray) or three (RGB)
// samples per pixel.
func encodeJPEG(pix []uint8, rows, cols, samples, quality int) ([]byte, error) {
	var img image.Image
	switch samples {
	case 1:
		img = grayImage(pix, rows, cols)
	case 3:
		img = rgbImage(pix, rows, cols)
	default:
		return nil, errors.Errorf("jpeg: %d samples per pixel", samples)
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	// Encapsulated fragments have an even length.
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

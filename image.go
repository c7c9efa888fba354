package ctscan

// Conversions between volume slices and image.Image, so that compositing can
// be done with golang.org/x/image/draw.

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// grayImage wraps an 8-bit slice without copying.
func grayImage(pix []uint8, rows, cols int) *image.Gray {
	return &image.Gray{Pix: pix, Stride: cols, Rect: image.Rect(0, 0, cols, rows)}
}

// rgbaFromGray expands a gray slice to an opaque RGBA canvas.
func rgbaFromGray(pix []uint8, rows, cols int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, cols, rows))
	draw.Draw(dst, dst.Bounds(), grayImage(pix, rows, cols), image.Point{}, draw.Src)
	return dst
}

// copyRGBA stores the RGB channels of src into dst (interleaved, 3 samples
// per pixel).
func copyRGBA(dst []uint8, src *image.RGBA) {
	b := src.Bounds()
	cols := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < cols; x++ {
			o := (y*cols + x) * 3
			dst[o] = row[4*x]
			dst[o+1] = row[4*x+1]
			dst[o+2] = row[4*x+2]
		}
	}
}

// rgbImage converts an interleaved RGB slice into an image.
func rgbImage(pix []uint8, rows, cols int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for i := 0; i < rows*cols; i++ {
		img.Pix[4*i] = pix[3*i]
		img.Pix[4*i+1] = pix[3*i+1]
		img.Pix[4*i+2] = pix[3*i+2]
		img.Pix[4*i+3] = 0xff
	}
	return img
}

// paint blends c into dst wherever mask is set:
// (1-opacity)*dst + opacity*c per channel, truncated to uint8.
func paint(dst *image.RGBA, mask []bool, c color.RGBA, opacity float64) {
	rgb := [3]float64{float64(c.R), float64(c.G), float64(c.B)}
	for i, m := range mask {
		if !m {
			continue
		}
		px := dst.Pix[4*i : 4*i+3]
		for k, v := range rgb {
			px[k] = uint8((1-opacity)*float64(px[k]) + opacity*v)
		}
	}
}

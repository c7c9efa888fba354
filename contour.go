package ctscan

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
)

// ContourOptions controls ContourVolume.
type ContourOptions struct {
	Color   color.RGBA
	Opacity float64
	// Thickness of the contour line inside each region, in pixels.
	Thickness int
	// The contour is grown by a square of this radius before painting.
	DilationRadius int
	Background     uint8
	// Window applied to the CT before painting.
	Window Window
}

// DefaultContourOptions draws opaque green lung contours over the pulmonary
// window.
func DefaultContourOptions() ContourOptions {
	return ContourOptions{
		Color:          color.RGBA{R: 0, G: 255, B: 0, A: 0xff},
		Opacity:        1,
		Thickness:      1,
		DilationRadius: 1,
		Window:         PulmonaryWindow,
	}
}

func (o ContourOptions) validate() error {
	if o.Opacity < 0 || o.Opacity > 1 {
		return fmt.Errorf("contour: opacity %v out of [0, 1]", o.Opacity)
	}
	if o.Thickness < 1 {
		return fmt.Errorf("contour: thickness %d must be at least 1", o.Thickness)
	}
	if o.DilationRadius < 0 {
		return fmt.Errorf("contour: negative dilation radius %d", o.DilationRadius)
	}
	return o.Window.validate()
}

// contourMask marks the labelled pixels lying within "thickness" pixels
// (chessboard distance) of a different label or of the slice border.
func contourMask(labels []uint8, rows, cols, thickness int, background uint8) []bool {
	mask := make([]bool, len(labels))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			l := labels[y*cols+x]
			if l == background {
				continue
			}
		scan:
			for dy := -thickness; dy <= thickness; dy++ {
				for dx := -thickness; dx <= thickness; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= rows || xx < 0 || xx >= cols || labels[yy*cols+xx] != l {
						mask[y*cols+x] = true
						break scan
					}
				}
			}
		}
	}
	return mask
}

// dilate grows mask by a (2r+1)x(2r+1) square.
func dilate(mask []bool, rows, cols, r int) []bool {
	if r == 0 {
		return mask
	}
	out := make([]bool, len(mask))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if !mask[y*cols+x] {
				continue
			}
			for yy := max(0, y-r); yy <= min(rows-1, y+r); yy++ {
				for xx := max(0, x-r); xx <= min(cols-1, x+r); xx++ {
					out[yy*cols+xx] = true
				}
			}
		}
	}
	return out
}

// ContourSlice draws the contours of labels over an 8-bit gray slice and
// returns an RGB slice.
func ContourSlice(gray, labels []uint8, rows, cols int, opts ContourOptions) []uint8 {
	canvas := rgbaFromGray(gray, rows, cols)
	mask := contourMask(labels, rows, cols, opts.Thickness, opts.Background)
	paint(canvas, dilate(mask, rows, cols, opts.DilationRadius), opts.Color, opts.Opacity)
	out := make([]uint8, rows*cols*3)
	copyRGBA(out, canvas)
	return out
}

// ContourVolume windows ct and draws the contours of labels on it. Slice z of
// the result is built from slice z of both inputs, for z = 0..Depth-1.
func ContourVolume(ct *Volume[int16], labels *Volume[uint8], opts ContourOptions) (*Volume[uint8], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if ct.Samples != 1 || labels.Samples != 1 || !sameGrid(ct, labels) {
		return nil, errors.Wrapf(ErrShapeMismatch, "contour: image %v, labels %v", ct, labels)
	}
	out, err := NewVolume[uint8](ct.Depth, ct.Rows, ct.Cols, 3)
	if err != nil {
		return nil, err
	}
	gray := make([]uint8, ct.Rows*ct.Cols)
	err = ct.ForEachSlice(func(z int, slice []int16) error {
		WindowSlice(gray, slice, opts.Window)
		copy(out.Slice(z), ContourSlice(gray, labels.Slice(z), ct.Rows, ct.Cols, opts))
		return nil
	})
	return out, err
}

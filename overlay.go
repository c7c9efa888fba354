package ctscan

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
)

// Palette colors non-background labels. Label l is drawn with
// p[l%len(p)], so with two colors label 1 takes p[1] and label 2 takes p[0].
type Palette []color.RGBA

// Color returns the color assigned to label l.
func (p Palette) Color(l uint8) color.RGBA {
	return p[int(l)%len(p)]
}

// LesionPalette paints ground-glass opacity (label 1) blue and consolidation
// (label 2) red. Add colors to support more classes.
var LesionPalette = Palette{
	{R: 212, G: 17, B: 89, A: 0xff},
	{R: 26, G: 133, B: 255, A: 0xff},
}

// OverlayOptions controls LabelOverlay.
type OverlayOptions struct {
	Opacity    float64 // 0 keeps the CT, 1 replaces it with the label color.
	Background uint8   // Label value left unpainted.
	Palette    Palette
}

// DefaultOverlayOptions blends lesion labels at 30% opacity.
func DefaultOverlayOptions() OverlayOptions {
	return OverlayOptions{Opacity: 0.3, Background: 0, Palette: LesionPalette}
}

func (o OverlayOptions) validate() error {
	if o.Opacity < 0 || o.Opacity > 1 {
		return fmt.Errorf("overlay: opacity %v out of [0, 1]", o.Opacity)
	}
	if len(o.Palette) == 0 {
		return errors.New("overlay: empty palette")
	}
	return nil
}

// OverlaySlice blends labels over one gray slice and returns an RGB slice.
func OverlaySlice(gray, labels []uint8, rows, cols int, opts OverlayOptions) []uint8 {
	canvas := rgbaFromGray(gray, rows, cols)
	for ci := range opts.Palette {
		mask := make([]bool, len(labels))
		for i, l := range labels {
			mask[i] = l != opts.Background && int(l)%len(opts.Palette) == ci
		}
		paint(canvas, mask, opts.Palette[ci], opts.Opacity)
	}
	out := make([]uint8, rows*cols*3)
	copyRGBA(out, canvas)
	return out
}

// LabelOverlay paints labels over an 8-bit gray volume, slice by slice. The
// result is an RGB volume with the same depth and in-plane size.
func LabelOverlay(gray, labels *Volume[uint8], opts OverlayOptions) (*Volume[uint8], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if gray.Samples != 1 || labels.Samples != 1 || !sameGrid(gray, labels) {
		return nil, errors.Wrapf(ErrShapeMismatch, "overlay: image %v, labels %v", gray, labels)
	}
	out, err := NewVolume[uint8](gray.Depth, gray.Rows, gray.Cols, 3)
	if err != nil {
		return nil, err
	}
	err = gray.ForEachSlice(func(z int, slice []uint8) error {
		copy(out.Slice(z), OverlaySlice(slice, labels.Slice(z), gray.Rows, gray.Cols, opts))
		return nil
	})
	return out, err
}

// OverlayCT applies the pulmonary window to ct, then overlays labels.
func OverlayCT(ct *Volume[int16], labels *Volume[uint8], opts OverlayOptions) (*Volume[uint8], error) {
	gray, err := PulmonaryWindowVolume(ct)
	if err != nil {
		return nil, err
	}
	return LabelOverlay(gray, labels, opts)
}

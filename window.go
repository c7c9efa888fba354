package ctscan

import (
	"fmt"
)

// Window maps the intensity range [Min, Max] linearly onto
// [OutputMin, OutputMax]. Values outside the range saturate.
type Window struct {
	Min, Max             float64
	OutputMin, OutputMax float64
}

// PulmonaryWindow is the lung window for chest CT, in Hounsfield units.
var PulmonaryWindow = Window{Min: -1000, Max: 170, OutputMin: 0, OutputMax: 255}

// Center is the DICOM WindowCenter equivalent of w.
func (w Window) Center() float64 { return (w.Min + w.Max) / 2 }

// Width is the DICOM WindowWidth equivalent of w.
func (w Window) Width() float64 { return w.Max - w.Min }

func (w Window) validate() error {
	if w.Max <= w.Min {
		return fmt.Errorf("window: max %v must be greater than min %v", w.Max, w.Min)
	}
	if w.OutputMin < 0 || w.OutputMax > 255 {
		return fmt.Errorf("window: output range [%v, %v] does not fit in 8 bits", w.OutputMin, w.OutputMax)
	}
	return nil
}

// Apply maps one intensity. The fractional part is dropped, as in a plain
// numeric cast.
func (w Window) Apply(v float64) uint8 {
	switch {
	case v <= w.Min:
		return uint8(w.OutputMin)
	case v >= w.Max:
		return uint8(w.OutputMax)
	}
	return uint8((v-w.Min)*(w.OutputMax-w.OutputMin)/(w.Max-w.Min) + w.OutputMin)
}

// WindowSlice windows src into dst. Both must have the same length.
func WindowSlice(dst []uint8, src []int16, w Window) {
	for i, v := range src {
		dst[i] = w.Apply(float64(v))
	}
}

// IntensityWindow returns a new 8-bit volume holding vol seen through w.
func IntensityWindow(vol *Volume[int16], w Window) (*Volume[uint8], error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if vol.Samples != 1 {
		return nil, fmt.Errorf("IntensityWindow: %v is not a grayscale volume", vol)
	}
	out, err := NewVolume[uint8](vol.Depth, vol.Rows, vol.Cols, 1)
	if err != nil {
		return nil, err
	}
	err = vol.ForEachSlice(func(z int, slice []int16) error {
		WindowSlice(out.Slice(z), slice, w)
		return nil
	})
	return out, err
}

// PulmonaryWindowVolume applies PulmonaryWindow to vol.
func PulmonaryWindowVolume(vol *Volume[int16]) (*Volume[uint8], error) {
	return IntensityWindow(vol, PulmonaryWindow)
}

// This file implements PNG export of volume slices, for eyeballing the output
// of the windowing, overlay and contour operations.
package ctscan

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"v.io/x/lib/vlog"
)

// PreviewOptions controls WritePreviews.
type PreviewOptions struct {
	// Scale resizes each slice with bilinear interpolation. Values <= 0 mean 1.
	Scale float64
	// Annotate draws "z/depth" in the top-left corner.
	Annotate bool
	// Prefix of the file names. Defaults to "slice".
	Prefix string
}

func (o PreviewOptions) prefix() string {
	if o.Prefix == "" {
		return "slice"
	}
	return o.Prefix
}

// PreviewName is the file name of slice z.
func PreviewName(prefix string, z int) string {
	return fmt.Sprintf("%s_%04d.png", prefix, z)
}

// WritePreviews writes each slice of an 8-bit gray (Samples 1) or RGB
// (Samples 3) volume to dir as a PNG file. It returns the file paths in slice
// order.
func WritePreviews(ctx context.Context, vol *Volume[uint8], dir string, opts PreviewOptions) ([]string, error) {
	if vol.Samples != 1 && vol.Samples != 3 {
		return nil, errors.Errorf("preview: %v: want 1 or 3 samples per pixel", vol)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "%s: mkdir", dir)
	}
	var paths []string
	err := vol.ForEachSlice(func(z int, slice []uint8) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		img := previewImage(slice, vol.Rows, vol.Cols, vol.Samples, opts.Scale)
		if opts.Annotate {
			annotate(img, fmt.Sprintf("%d/%d", z+1, vol.Depth))
		}
		path := filepath.Join(dir, PreviewName(opts.prefix(), z))
		if err := writePNG(path, img); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	vlog.VI(1).Infof("%s: wrote %d previews", dir, len(paths))
	return paths, nil
}

func previewImage(slice []uint8, rows, cols, samples int, scale float64) *image.RGBA {
	var src *image.RGBA
	if samples == 1 {
		src = rgbaFromGray(slice, rows, cols)
	} else {
		src = rgbImage(slice, rows, cols)
	}
	if scale <= 0 || scale == 1 {
		return src
	}
	w, h := max(1, int(float64(cols)*scale+0.5)), max(1, int(float64(rows)*scale+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// annotate draws text in white on a black box.
func annotate(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Height + 2
	draw.Draw(img, image.Rect(0, 0, w, h).Intersect(img.Bounds()), image.Black, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(2), Y: fixed.I(face.Ascent + 1)},
	}
	d.DrawString(text)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "%s: create", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "%s: encode", path)
	}
	return f.Close()
}

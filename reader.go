// This file implements reading a DICOM series into a Volume.
package ctscan

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math"
	"runtime"
	"sort"

	"github.com/mkmik/argsort"
	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"
	"v.io/x/lib/vlog"

	"github.com/covasquezv/go-ctscan/sopclass"
)

// ReadOptions controls ReadSeries.
type ReadOptions struct {
	// SeriesUID selects a series when the source holds several. If empty,
	// the series with the smallest SeriesInstanceUID is read.
	SeriesUID string
	// Workers bounds the number of files parsed concurrently. Defaults to
	// runtime.NumCPU().
	Workers int
}

func (o ReadOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// SeriesInfo summarizes one series found in a Source.
type SeriesInfo struct {
	SeriesInstanceUID string
	SeriesDescription string
	Modality          string
	Files             []string
}

// Series is a CT series loaded in memory.
type Series struct {
	// Hounsfield units, after RescaleSlope/RescaleIntercept.
	Volume   *Volume[int16]
	Geometry Geometry
	Metadata SeriesMetadata
	// Files in slice order: Files[z] holds slice z.
	Files []string
}

// sliceHeader is what ReadSeries needs from a file before reading its pixels.
type sliceHeader struct {
	name        string
	seriesUID   string
	description string
	modality    string
	instance    int
	position    []float64 // ImagePositionPatient, may be nil
	orientation []float64 // ImageOrientationPatient, may be nil
}

func parseSource(src Source, name string, opts ...dicom.ParseOption) (dicom.Dataset, error) {
	rc, size, err := src.Open(name)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer rc.Close()
	ds, err := dicom.Parse(rc, size, nil, opts...)
	if err != nil {
		return dicom.Dataset{}, errors.Wrapf(err, "%s: failed to parse as DICOM", name)
	}
	return ds, nil
}

// scanHeaders parses every file of src without pixel data. Files that do not
// parse, or that carry no image, are skipped.
func scanHeaders(ctx context.Context, src Source, workers int) ([]sliceHeader, error) {
	names, err := src.List()
	if err != nil {
		return nil, err
	}
	headers := make([]*sliceHeader, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := parseSource(src, name, dicom.SkipPixelData())
			if err != nil {
				vlog.Errorf("%v: skip file", err)
				return nil
			}
			if _, ok := datasetInt(&ds, tag.Rows); !ok {
				vlog.VI(1).Infof("%s: no image, skipped", name)
				return nil
			}
			h := &sliceHeader{
				name:        name,
				seriesUID:   datasetString(&ds, tag.SeriesInstanceUID),
				description: datasetString(&ds, tag.SeriesDescription),
				modality:    datasetString(&ds, tag.Modality),
				position:    datasetFloats(&ds, tag.ImagePositionPatient),
				orientation: datasetFloats(&ds, tag.ImageOrientationPatient),
			}
			h.instance, _ = datasetInt(&ds, tag.InstanceNumber)
			headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []sliceHeader
	for _, h := range headers {
		if h != nil {
			out = append(out, *h)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrNoDICOMFiles, "%s", src)
	}
	return out, nil
}

func groupSeries(headers []sliceHeader) map[string][]sliceHeader {
	groups := make(map[string][]sliceHeader)
	for _, h := range headers {
		groups[h.seriesUID] = append(groups[h.seriesUID], h)
	}
	return groups
}

func sortedUIDs(groups map[string][]sliceHeader) []string {
	uids := make([]string, 0, len(groups))
	for uid := range groups {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// ListSeries reports the series stored in src, sorted by SeriesInstanceUID.
func ListSeries(ctx context.Context, src Source, opts ReadOptions) ([]SeriesInfo, error) {
	headers, err := scanHeaders(ctx, src, opts.workers())
	if err != nil {
		return nil, err
	}
	groups := groupSeries(headers)
	var infos []SeriesInfo
	for _, uid := range sortedUIDs(groups) {
		hs := sortSlices(groups[uid])
		info := SeriesInfo{
			SeriesInstanceUID: uid,
			SeriesDescription: hs[0].description,
			Modality:          hs[0].modality,
		}
		for _, h := range hs {
			info.Files = append(info.Files, h.name)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// sliceNormal is the cross product of the row and column direction cosines.
func sliceNormal(orientation []float64) ([3]float64, bool) {
	if len(orientation) != 6 {
		return [3]float64{0, 0, 1}, false
	}
	r, c := orientation[:3], orientation[3:]
	return [3]float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}, true
}

func dot(a []float64, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// sortSlices orders the slices of one series by their position along the
// slice normal. When any slice lacks a position, InstanceNumber is used.
func sortSlices(hs []sliceHeader) []sliceHeader {
	normal, _ := sliceNormal(hs[0].orientation)
	keys := make([]float64, len(hs))
	byPosition := true
	for i, h := range hs {
		if len(h.position) != 3 {
			byPosition = false
			break
		}
		keys[i] = dot(h.position, normal)
	}
	if !byPosition {
		for i, h := range hs {
			keys[i] = float64(h.instance)
		}
	}
	order := argsort.SortSlice(keys, func(i, j int) bool {
		if keys[i] != keys[j] {
			return keys[i] < keys[j]
		}
		return hs[i].name < hs[j].name
	})
	out := make([]sliceHeader, len(hs))
	for i, o := range order {
		out[i] = hs[o]
	}
	return out
}

// ReadDir reads the only (or first) series under dir.
func ReadDir(ctx context.Context, dir string) (*Series, error) {
	return ReadSeries(ctx, DirSource(dir), ReadOptions{})
}

// ReadSeries loads one series from src. Slices are ordered along the slice
// normal, so Volume slice 0 is the most inferior (or first by
// InstanceNumber).
func ReadSeries(ctx context.Context, src Source, opts ReadOptions) (*Series, error) {
	headers, err := scanHeaders(ctx, src, opts.workers())
	if err != nil {
		return nil, err
	}
	groups := groupSeries(headers)
	uid := opts.SeriesUID
	if uid == "" {
		uids := sortedUIDs(groups)
		uid = uids[0]
		if len(uids) > 1 {
			vlog.Infof("%s: %d series found, reading %s", src, len(uids), uid)
		}
	}
	hs, ok := groups[uid]
	if !ok {
		return nil, errors.Wrapf(ErrSeriesNotFound, "%s: %s", src, uid)
	}
	hs = sortSlices(hs)

	datasets := make([]dicom.Dataset, len(hs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range hs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ds, err := parseSource(src, hs[i].name)
			if err != nil {
				return err
			}
			datasets[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	first := &datasets[0]
	rows, _ := datasetInt(first, tag.Rows)
	cols, _ := datasetInt(first, tag.Columns)
	vol, err := NewVolume[int16](len(hs), rows, cols, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", hs[0].name)
	}
	series := &Series{
		Volume:   vol,
		Geometry: seriesGeometry(first, hs),
		Metadata: metadataFromDataset(first),
	}
	for z := range hs {
		ds := &datasets[z]
		if r, _ := datasetInt(ds, tag.Rows); r != rows {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: %d rows, first slice has %d", hs[z].name, r, rows)
		}
		if c, _ := datasetInt(ds, tag.Columns); c != cols {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: %d columns, first slice has %d", hs[z].name, c, cols)
		}
		if err := decodeSlice(ds, vol.Slice(z), rows, cols); err != nil {
			return nil, errors.Wrapf(err, "%s", hs[z].name)
		}
		series.Files = append(series.Files, hs[z].name)
		vlog.VI(2).Infof("%s: slice %d", hs[z].name, z)
	}
	vlog.Infof("%s: read series %s, %v, transfer syntax %s",
		src, uid, vol, sopclass.UIDString(datasetString(first, tag.TransferSyntaxUID)))
	return series, nil
}

func seriesGeometry(first *dicom.Dataset, hs []sliceHeader) Geometry {
	g := NewGeometry([3]float64{1, 1, 1})
	if ps := datasetFloats(first, tag.PixelSpacing); len(ps) == 2 {
		// PixelSpacing is row spacing \ column spacing.
		g.Spacing[0], g.Spacing[1] = ps[1], ps[0]
	}
	if normal, ok := sliceNormal(hs[0].orientation); ok {
		copy(g.Direction[:6], hs[0].orientation)
		copy(g.Direction[6:], normal[:])
	}
	if len(hs[0].position) == 3 {
		copy(g.Origin[:], hs[0].position)
	}
	normal := [3]float64{g.Direction[6], g.Direction[7], g.Direction[8]}
	if len(hs) > 1 && len(hs[0].position) == 3 && len(hs[1].position) == 3 {
		d := []float64{
			hs[1].position[0] - hs[0].position[0],
			hs[1].position[1] - hs[0].position[1],
			hs[1].position[2] - hs[0].position[2],
		}
		if s := math.Abs(dot(d, normal)); s > 0 {
			g.Spacing[2] = s
		}
	} else if t := datasetFloats(first, tag.SliceThickness); len(t) == 1 && t[0] > 0 {
		g.Spacing[2] = t[0]
	}
	return g
}

// decodeSlice stores the rescaled pixel values of ds into dst.
func decodeSlice(ds *dicom.Dataset, dst []int16, rows, cols int) error {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return errors.Wrap(ErrUnsupportedPixelData, "no pixel data")
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return errors.Wrap(ErrUnsupportedPixelData, "empty pixel data")
	}
	if spp, ok := datasetInt(ds, tag.SamplesPerPixel); ok && spp != 1 {
		return errors.Wrapf(ErrUnsupportedPixelData, "%d samples per pixel", spp)
	}
	slope, intercept := 1.0, 0.0
	if v := datasetFloats(ds, tag.RescaleSlope); len(v) == 1 {
		slope = v[0]
	}
	if v := datasetFloats(ds, tag.RescaleIntercept); len(v) == 1 {
		intercept = v[0]
	}
	pixelRep, _ := datasetInt(ds, tag.PixelRepresentation)
	bitsAllocated, _ := datasetInt(ds, tag.BitsAllocated)
	store := func(i int, raw int) {
		v := float64(raw)
		if pixelRep == 1 {
			if bitsAllocated == 8 {
				v = float64(int8(uint8(raw)))
			} else {
				v = float64(int16(uint16(raw)))
			}
		}
		dst[i] = clampInt16(math.Round(v*slope + intercept))
	}

	fr := info.Frames[0]
	ts := datasetString(ds, tag.TransferSyntaxUID)
	if fr.Encapsulated {
		// Only baseline JPEG has a decoder.
		if ts != sopclass.JPEGBaseline {
			return errors.Wrapf(ErrUnsupportedPixelData, "encapsulated transfer syntax %s", sopclass.UIDString(ts))
		}
		img, _, err := image.Decode(bytes.NewReader(fr.EncapsulatedData.Data))
		if err != nil {
			return errors.Wrapf(ErrUnsupportedPixelData, "transfer syntax %s: %v", sopclass.UIDString(ts), err)
		}
		b := img.Bounds()
		if b.Dx() != cols || b.Dy() != rows {
			return errors.Wrapf(ErrShapeMismatch, "frame %dx%d, header %dx%d", b.Dx(), b.Dy(), cols, rows)
		}
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				store(y*cols+x, int(g.Y))
			}
		}
		return nil
	}
	if ts != "" && !sopclass.IsNative(ts) {
		return errors.Wrapf(ErrUnsupportedPixelData, "native pixel data under transfer syntax %s", sopclass.UIDString(ts))
	}
	nf := fr.NativeData
	if nf == nil || nf.Rows() != rows || nf.Cols() != cols {
		return errors.Wrapf(ErrShapeMismatch, "native frame does not match %dx%d", cols, rows)
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := nf.GetPixel(x, y)
			if err != nil {
				return errors.Wrapf(ErrUnsupportedPixelData, "pixel (%d,%d): %v", x, y, err)
			}
			store(y*cols+x, px[0])
		}
	}
	return nil
}

func clampInt16(v float64) int16 {
	switch {
	case v < math.MinInt16:
		return math.MinInt16
	case v > math.MaxInt16:
		return math.MaxInt16
	}
	return int16(v)
}

// LabelsFromVolume converts a label map read as a series into 8-bit labels,
// clamping values to [0, 255].
func LabelsFromVolume(v *Volume[int16]) *Volume[uint8] {
	out := &Volume[uint8]{Depth: v.Depth, Rows: v.Rows, Cols: v.Cols, Samples: v.Samples, Data: make([]uint8, len(v.Data))}
	for i, x := range v.Data {
		switch {
		case x < 0:
			out.Data[i] = 0
		case x > 255:
			out.Data[i] = 255
		default:
			out.Data[i] = uint8(x)
		}
	}
	return out
}

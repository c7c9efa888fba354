// This file implements writing a volume as a new DICOM series.
package ctscan

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"v.io/x/lib/vlog"

	"github.com/covasquezv/go-ctscan/sopclass"
)

// WriteParams describes the series to be written. SeriesID is required; the
// other study fields are copied verbatim into every slice.
type WriteParams struct {
	// SeriesID is the numeric component of the derived SeriesInstanceUID,
	// "1.<SeriesID>.<date><time>".
	SeriesID string

	StudyID           string
	PatientID         string
	AccessionNumber   string
	StudyUID          string
	StudyDescription  string
	SeriesDescription string
	// PatientDirection is written as ImageOrientationPatient. If empty, the
	// row and column cosines of Geometry are used.
	PatientDirection string
	// PatientPosition, e.g. "HFS". Written only when set.
	PatientPosition string

	// Geometry places the slices. A zero Geometry means unit spacing at the
	// origin.
	Geometry Geometry
	// SliceThickness in mm. RGB series default to DefaultRGBSliceThickness;
	// grayscale series omit the tag when zero.
	SliceThickness float64

	Compression Compression
	JPEGQuality int

	// ExtraTags are applied to every slice after the generated tags, keyed
	// "gggg|eeee".
	ExtraTags map[string]string

	// Manifest adds a manifest.yaml listing the written files.
	Manifest bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewWriteParams creates WriteParams with default values.
func NewWriteParams(seriesID string) WriteParams {
	return WriteParams{
		SeriesID:    seriesID,
		Geometry:    NewGeometry([3]float64{1, 1, 1}),
		JPEGQuality: DefaultJPEGQuality,
		Now:         time.Now,
	}
}

// ParamsFromSeries copies the study attributes and geometry of s into
// WriteParams for a derived series.
func ParamsFromSeries(s *Series, seriesID, description string) WriteParams {
	p := NewWriteParams(seriesID)
	m := s.Metadata
	p.StudyID = m.StudyID
	p.PatientID = m.PatientID
	p.AccessionNumber = m.AccessionNumber
	p.StudyUID = m.StudyInstanceUID
	p.StudyDescription = m.StudyDescription
	p.SeriesDescription = description
	p.PatientDirection = m.ImageOrientationPatient
	p.PatientPosition = m.PatientPosition
	p.Geometry = s.Geometry
	p.SliceThickness = s.Geometry.Spacing[2]
	return p
}

func (p WriteParams) geometry() Geometry {
	g := p.Geometry
	if g.isZero() {
		g = NewGeometry(g.Spacing)
	}
	for i, s := range g.Spacing {
		if s <= 0 {
			g.Spacing[i] = 1
		}
	}
	return g
}

func (p WriteParams) patientDirection() string {
	if p.PatientDirection != "" {
		return p.PatientDirection
	}
	dir := p.geometry().Direction
	return formatDSList(dir[:6])
}

func (p WriteParams) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// WriteResult reports a written series.
type WriteResult struct {
	SeriesInstanceUID string
	// Files in slice order.
	Files []string
	Bytes int64
}

// pixelModule is what differs between grayscale and RGB output.
type pixelModule struct {
	sopClass    string
	samples     int
	bits        int
	signed      bool
	photometric string
	tags        []TagValue
}

// WriteSeries writes a single-sample volume as a CT series, one file per
// slice, in slice order. int16 volumes are stored signed.
func WriteSeries[T Sample](ctx context.Context, vol *Volume[T], sink Sink, p WriteParams) (*WriteResult, error) {
	var zero T
	pm := pixelModule{
		sopClass:    sopclass.CTImageStorage,
		samples:     1,
		bits:        sampleBits(zero),
		signed:      sampleSigned(zero),
		photometric: "MONOCHROME2",
		tags: []TagValue{
			{tag.RescaleIntercept, "0"},
			{tag.RescaleSlope, "1"},
		},
	}
	if p.SliceThickness > 0 {
		pm.tags = append(pm.tags, TagValue{tag.SliceThickness, formatDS(p.SliceThickness)})
	}
	res, err := writeSeries(ctx, vol, sink, p, pm)
	if err != nil {
		vlog.Errorf("%s: write series: %v", sink, err)
	}
	return res, err
}

// WriteRGBSeries writes an interleaved RGB volume (Samples == 3) as a
// Secondary Capture series. Modality stays CT.
func WriteRGBSeries(ctx context.Context, vol *Volume[uint8], sink Sink, p WriteParams) (*WriteResult, error) {
	pm := pixelModule{
		sopClass:    sopclass.SecondaryCaptureImageStorage,
		samples:     3,
		bits:        8,
		photometric: "RGB",
		tags:        append(RGBTags(p.SliceThickness), TagValue{tag.PlanarConfiguration, "0"}),
	}
	res, err := writeSeries(ctx, vol, sink, p, pm)
	if err != nil {
		vlog.Errorf("%s: write RGB series: %v", sink, err)
	}
	return res, err
}

func writeSeries[T Sample](ctx context.Context, vol *Volume[T], sink Sink, p WriteParams, pm pixelModule) (*WriteResult, error) {
	if vol.Samples != pm.samples {
		return nil, errors.Errorf("%v: want %d samples per pixel", vol, pm.samples)
	}
	stamp := NewStamp(p.now())
	seriesUID := SeriesUID(p.SeriesID, stamp)
	if err := ValidateUID(seriesUID); err != nil {
		return nil, errors.Wrap(err, "series UID")
	}
	if p.StudyUID != "" {
		if err := ValidateUID(p.StudyUID); err != nil {
			return nil, errors.Wrap(err, "study UID")
		}
	}
	extra, err := extraTags(p.ExtraTags)
	if err != nil {
		return nil, err
	}
	compression := p.Compression
	if compression == CompressionJPEG && pm.bits != 8 {
		vlog.Infof("%s: jpeg needs 8-bit samples, writing %v uncompressed", sink, vol)
		compression = CompressionNone
	}
	if compression == CompressionJPEG && pm.samples == 3 {
		pm.photometric = "YBR_FULL_422"
	}
	geom := p.geometry()
	common := append(SeriesTags(p, stamp, seriesUID), pixelTags(vol, geom, pm)...)
	common = append(common, pm.tags...)
	if p.PatientPosition != "" {
		common = append(common, TagValue{tag.PatientPosition, p.PatientPosition})
	}

	res := &WriteResult{SeriesInstanceUID: seriesUID}
	manifest := newManifest(p, pm, stamp, seriesUID, compression, vol)
	err = vol.ForEachSlice(func(z int, slice []T) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		instanceUID := InstanceUID(seriesUID, z)
		tags := []TagValue{
			{tag.MediaStorageSOPClassUID, pm.sopClass},
			{tag.MediaStorageSOPInstanceUID, instanceUID},
			{tag.TransferSyntaxUID, compression.transferSyntax()},
			{tag.SOPClassUID, pm.sopClass},
		}
		tags = append(tags, common...)
		tags = append(tags, SliceTags(z, stamp, seriesUID, geom)...)
		tags = append(tags, extra...)
		ds, err := buildDataset(tags)
		if err != nil {
			return err
		}
		pixels, err := pixelElement(slice, vol.Rows, vol.Cols, pm, compression, p.JPEGQuality)
		if err != nil {
			return errors.Wrapf(err, "slice %d", z)
		}
		ds.Elements = append(ds.Elements, pixels)

		name := instanceUID + ".dcm"
		n, err := writeFile(sink, name, ds)
		if err != nil {
			return err
		}
		res.Files = append(res.Files, name)
		res.Bytes += n
		manifest.add(name, instanceUID, z, geom)
		vlog.VI(2).Infof("%s: wrote %s (%s)", sink, name, humanize.Bytes(uint64(n)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.Manifest {
		n, err := writeManifest(sink, manifest)
		if err != nil {
			return nil, err
		}
		res.Bytes += n
	}
	vlog.Infof("%s: wrote series %s, %d files, %s, %s",
		sink, seriesUID, len(res.Files), humanize.Bytes(uint64(res.Bytes)), sopclass.UIDString(compression.transferSyntax()))
	return res, nil
}

func pixelTags[T Sample](vol *Volume[T], g Geometry, pm pixelModule) []TagValue {
	pixelRep := "0"
	if pm.signed {
		pixelRep = "1"
	}
	return []TagValue{
		{tag.SamplesPerPixel, strconv.Itoa(pm.samples)},
		{tag.PhotometricInterpretation, pm.photometric},
		{tag.Rows, strconv.Itoa(vol.Rows)},
		{tag.Columns, strconv.Itoa(vol.Cols)},
		// Row spacing first.
		{tag.PixelSpacing, formatDSList([]float64{g.Spacing[1], g.Spacing[0]})},
		{tag.BitsAllocated, strconv.Itoa(pm.bits)},
		{tag.BitsStored, strconv.Itoa(pm.bits)},
		{tag.HighBit, strconv.Itoa(pm.bits - 1)},
		{tag.PixelRepresentation, pixelRep},
	}
}

// newElement builds an element from its string form, converting to the
// binary type the dictionary gives the tag. Tags missing from the dictionary,
// private ones included, are written as LO.
func newElement(tv TagValue) (*dicom.Element, error) {
	vals := strings.Split(tv.Value, `\`)
	info, err := tag.Find(tv.Tag)
	if err != nil {
		v, err := dicom.NewValue(vals)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", tv)
		}
		return &dicom.Element{
			Tag:                    tv.Tag,
			ValueRepresentation:    tag.VRStringList,
			RawValueRepresentation: "LO",
			Value:                  v,
		}, nil
	}
	var data interface{} = vals
	switch tag.GetVRKind(tv.Tag, info.VRs[0]) {
	case tag.VRUInt16List, tag.VRUInt32List, tag.VRInt16List, tag.VRInt32List:
		ints := make([]int, len(vals))
		for i, s := range vals {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, errors.Wrapf(err, "%s: not an integer", tv)
			}
			ints[i] = n
		}
		data = ints
	case tag.VRFloat32List, tag.VRFloat64List:
		fs, err := parseDSList(tv.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", tv)
		}
		data = fs
	case tag.VRBytes:
		data = []byte(tv.Value)
	case tag.VRStringList, tag.VRDate:
	default:
		return nil, errors.Errorf("%s: VR %s cannot be set from a string", tv, info.VRs[0])
	}
	elem, err := dicom.NewElement(tv.Tag, data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", tv)
	}
	return elem, nil
}

// buildDataset creates a dataset from tags. A later value for the same tag
// replaces an earlier one. Elements are sorted by tag.
func buildDataset(tags []TagValue) (dicom.Dataset, error) {
	byTag := make(map[tag.Tag]*dicom.Element, len(tags))
	version, err := dicom.NewElement(tag.FileMetaInformationVersion, []byte{0, 1})
	if err != nil {
		return dicom.Dataset{}, err
	}
	byTag[tag.FileMetaInformationVersion] = version
	for _, tv := range tags {
		elem, err := newElement(tv)
		if err != nil {
			return dicom.Dataset{}, err
		}
		byTag[tv.Tag] = elem
	}
	ds := dicom.Dataset{Elements: make([]*dicom.Element, 0, len(byTag)+1)}
	for _, elem := range byTag {
		ds.Elements = append(ds.Elements, elem)
	}
	sort.Slice(ds.Elements, func(i, j int) bool {
		a, b := ds.Elements[i].Tag, ds.Elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return ds, nil
}

// pixelElement stores one slice as native or encapsulated pixel data.
// Signed 16-bit samples keep their two's complement bit pattern.
func pixelElement[T Sample](slice []T, rows, cols int, pm pixelModule, c Compression, quality int) (*dicom.Element, error) {
	var fr frame.Frame
	rawVR := "OB"
	switch {
	case c == CompressionJPEG:
		pix := make([]uint8, len(slice))
		for i, v := range slice {
			pix[i] = uint8(v)
		}
		data, err := encodeJPEG(pix, rows, cols, pm.samples, quality)
		if err != nil {
			return nil, err
		}
		fr = frame.Frame{Encapsulated: true, EncapsulatedData: frame.EncapsulatedFrame{Data: data}}
	case pm.bits == 8:
		nf := frame.NewNativeFrame[uint8](8, rows, cols, rows*cols, pm.samples)
		for i, v := range slice {
			nf.RawData[i] = uint8(v)
		}
		fr = frame.Frame{NativeData: nf}
	default:
		nf := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, pm.samples)
		for i, v := range slice {
			nf.RawData[i] = uint16(v)
		}
		fr = frame.Frame{NativeData: nf}
		rawVR = "OW"
	}
	info := dicom.PixelDataInfo{Frames: []*frame.Frame{&fr}, IsEncapsulated: fr.Encapsulated}
	elem, err := dicom.NewElement(tag.PixelData, info)
	if err != nil {
		return nil, err
	}
	elem.RawValueRepresentation = rawVR
	if fr.Encapsulated {
		elem.ValueLength = tag.VLUndefinedLength
	}
	return elem, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeFile(sink Sink, name string, ds dicom.Dataset) (int64, error) {
	w, err := sink.Create(name)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: create %s", sink, name)
	}
	cw := &countingWriter{w: w}
	if err := dicom.Write(cw, ds, dicom.SkipVRVerification()); err != nil {
		w.Close()
		return 0, errors.Wrapf(err, "%s: write %s", sink, name)
	}
	if err := w.Close(); err != nil {
		return 0, errors.Wrapf(err, "%s: close %s", sink, name)
	}
	return cw.n, nil
}

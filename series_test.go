package ctscan_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/covasquezv/go-ctscan"
	"github.com/covasquezv/go-ctscan/sopclass"
)

var testTime = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

func testParams(seriesID string) ctscan.WriteParams {
	p := ctscan.NewWriteParams(seriesID)
	p.Now = func() time.Time { return testTime }
	p.StudyID = "S1"
	p.PatientID = "P1"
	p.AccessionNumber = "A1"
	p.StudyUID = "1.2.826.0.1.3680043.2.1125.1"
	p.StudyDescription = "chest"
	p.SeriesDescription = "test"
	p.Geometry = ctscan.NewGeometry([3]float64{0.7, 0.8, 2.5})
	p.Geometry.Origin = [3]float64{-10, -20, -30}
	p.SliceThickness = 2.5
	return p
}

// testCT has 12 slices so that lexical file order differs from slice order.
func testCT(t *testing.T) *ctscan.Volume[int16] {
	vol, err := ctscan.NewVolume[int16](12, 3, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range vol.Data {
		vol.Data[i] = int16(i*37%3000 - 1500)
	}
	return vol
}

func writeDir(t *testing.T, dir string, write func(sink ctscan.Sink) (*ctscan.WriteResult, error)) *ctscan.WriteResult {
	t.Helper()
	sink, err := ctscan.NewDirSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := write(sink)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	return res
}

func findString(t *testing.T, ds *dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	if err != nil {
		t.Errorf("%v: %v", tg, err)
		return ""
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		return strings.Trim(strings.Join(v, `\`), " \x00")
	case []int:
		if len(v) == 1 {
			return strconv.Itoa(v[0])
		}
	}
	return ""
}

func TestWriteReadSeries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vol := testCT(t)
	res := writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, vol, sink, testParams("7"))
	})
	if res.SeriesInstanceUID != "1.7.20200102030405" {
		t.Errorf("series UID %v", res.SeriesInstanceUID)
	}
	if len(res.Files) != 12 || res.Files[0] != "1.7.20200102030405.1.dcm" || res.Files[11] != "1.7.20200102030405.12.dcm" {
		t.Errorf("files %v", res.Files)
	}
	if res.Bytes <= 0 {
		t.Errorf("bytes %d", res.Bytes)
	}

	s, err := ctscan.ReadDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	got := s.Volume
	if got.Depth != 12 || got.Rows != 3 || got.Cols != 4 {
		t.Fatalf("shape %v", got)
	}
	for i, v := range vol.Data {
		if got.Data[i] != v {
			t.Fatalf("voxel %d: got %d, want %d", i, got.Data[i], v)
		}
	}
	if filepath.Base(s.Files[11]) != res.Files[11] {
		t.Errorf("slice order %v", s.Files)
	}
	for i, want := range [3]float64{0.7, 0.8, 2.5} {
		if math.Abs(s.Geometry.Spacing[i]-want) > 1e-6 {
			t.Errorf("spacing %v", s.Geometry.Spacing)
		}
	}
	if s.Geometry.Origin != [3]float64{-10, -20, -30} {
		t.Errorf("origin %v", s.Geometry.Origin)
	}
	m := s.Metadata
	if m.PatientID != "P1" || m.StudyID != "S1" || m.AccessionNumber != "A1" ||
		m.StudyInstanceUID != "1.2.826.0.1.3680043.2.1125.1" || m.SeriesDescription != "test" ||
		m.Modality != "CT" || m.SeriesInstanceUID != res.SeriesInstanceUID {
		t.Errorf("metadata %+v", m)
	}
	if m.Tags["0008|0008"] != `DERIVED\SECONDARY` {
		t.Errorf("image type %q", m.Tags["0008|0008"])
	}

	ds, err := dicom.ParseFile(filepath.Join(dir, res.Files[2]), nil, dicom.SkipPixelData())
	if err != nil {
		t.Fatal(err)
	}
	for tg, want := range map[tag.Tag]string{
		tag.SOPClassUID:          sopclass.CTImageStorage,
		tag.SOPInstanceUID:       "1.7.20200102030405.3",
		tag.InstanceNumber:       "3",
		tag.SeriesDate:           "20200102",
		tag.SeriesTime:           "030405",
		tag.InstanceCreationDate: "20200102",
		tag.ImagePositionPatient: `-10\-20\-25`,
		tag.PixelSpacing:         `0.8\0.7`,
		tag.TransferSyntaxUID:    sopclass.ExplicitVRLittleEndian,
		tag.PixelRepresentation:  "1",
		tag.BitsAllocated:        "16",
		tag.SliceThickness:       "2.5",
	} {
		if got := findString(t, &ds, tg); got != want {
			t.Errorf("%v: got %q, want %q", tg, got, want)
		}
	}
}

func TestParamsFromSeries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := testParams("7")
	p.PatientPosition = "HFS"
	writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, testCT(t), sink, p)
	})
	s, err := ctscan.ReadDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	q := ctscan.ParamsFromSeries(s, "8", "derived")
	if q.StudyUID != p.StudyUID || q.PatientID != "P1" || q.PatientPosition != "HFS" ||
		q.SeriesDescription != "derived" || q.PatientDirection != `1\0\0\0\1\0` || q.SliceThickness != 2.5 {
		t.Errorf("params %+v", q)
	}
}

func TestWriteRGBSeriesZip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rgb.zip")
	rgb, _ := ctscan.NewVolume[uint8](2, 2, 2, 3)
	for i := range rgb.Data {
		rgb.Data[i] = uint8(i * 10)
	}
	sink, err := ctscan.CreateSink(path)
	if err != nil {
		t.Fatal(err)
	}
	p := testParams("9")
	p.SliceThickness = 0
	res, err := ctscan.WriteRGBSeries(ctx, rgb, sink, p)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	zs, err := ctscan.NewZipSource(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zs.Close()
	rc, n, err := zs.Open(res.Files[1])
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dicom.Parse(rc, n, nil)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	for tg, want := range map[tag.Tag]string{
		tag.SOPClassUID:               sopclass.SecondaryCaptureImageStorage,
		tag.Modality:                  "CT",
		tag.SamplesPerPixel:           "3",
		tag.PhotometricInterpretation: "RGB",
		tag.PlanarConfiguration:       "0",
		tag.BitsAllocated:             "8",
		tag.HighBit:                   "7",
		tag.SliceThickness:            "1.5",
		tag.NumberOfFrames:            "1",
		tag.RescaleSlope:              "1",
	} {
		if got := findString(t, &ds, tg); got != want {
			t.Errorf("%v: got %q, want %q", tg, got, want)
		}
	}
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		t.Fatal(err)
	}
	nf := dicom.MustGetPixelDataInfo(elem.Value).Frames[0].NativeData
	px, err := nf.GetPixel(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if px[2] != int(rgb.Slice(1)[5]) {
		t.Errorf("pixel (1,0) blue: got %d, want %d", px[2], rgb.Slice(1)[5])
	}

	// The reader only takes grayscale series.
	if _, err := ctscan.ReadSeries(ctx, zs, ctscan.ReadOptions{}); !errors.Is(err, ctscan.ErrUnsupportedPixelData) {
		t.Errorf("reading RGB: %v", err)
	}
}

func TestWriteExtraTags(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := testParams("7")
	p.ExtraTags = map[string]string{
		"0008|103e": "override",
		"(0009,0010)": "PRIVATE",
	}
	vol, _ := ctscan.NewVolume[uint8](1, 2, 2, 1)
	writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, vol, sink, p)
	})
	s, err := ctscan.ReadDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Metadata.SeriesDescription != "override" || s.Metadata.Tags["0009|0010"] != "PRIVATE" {
		t.Errorf("metadata %+v", s.Metadata)
	}

	p.ExtraTags = map[string]string{"bogus": "x"}
	sink, _ := ctscan.NewDirSink(t.TempDir())
	if _, err := ctscan.WriteSeries(ctx, vol, sink, p); err == nil {
		t.Error("expected an error for a malformed tag key")
	}
}

func TestWriteInvalidSeriesID(t *testing.T) {
	sink, _ := ctscan.NewDirSink(t.TempDir())
	vol, _ := ctscan.NewVolume[int16](1, 1, 1, 1)
	_, err := ctscan.WriteSeries(context.Background(), vol, sink, testParams("07"))
	if !errors.Is(err, ctscan.ErrInvalidUID) {
		t.Errorf("got %v", err)
	}
	rgb, _ := ctscan.NewVolume[uint8](1, 1, 1, 1)
	if _, err := ctscan.WriteRGBSeries(context.Background(), rgb, sink, testParams("7")); err == nil {
		t.Error("expected an error for a grayscale volume")
	}
}

func TestWriteJPEG(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vol, _ := ctscan.NewVolume[uint8](2, 16, 16, 1)
	for z := 0; z < 2; z++ {
		s := vol.Slice(z)
		for i := range s {
			s[i] = uint8(100 + 50*z)
		}
	}
	p := testParams("7")
	p.Compression = ctscan.CompressionJPEG
	res := writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, vol, sink, p)
	})
	data, err := os.ReadFile(filepath.Join(dir, res.Files[0]))
	if err != nil {
		t.Fatal(err)
	}
	if ts, err := ctscan.GetTransferSyntaxUIDInBytes(data); err != nil || ts != sopclass.JPEGBaseline {
		t.Errorf("transfer syntax %v %v", ts, err)
	}
	s, err := ctscan.ReadDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vol.Data {
		if d := int(s.Volume.Data[i]) - int(v); d < -2 || d > 2 {
			t.Fatalf("voxel %d: got %d, want ~%d", i, s.Volume.Data[i], v)
		}
	}
}

func TestWriteRGBJPEG(t *testing.T) {
	dir := t.TempDir()
	rgb, _ := ctscan.NewVolume[uint8](1, 16, 16, 3)
	for i := range rgb.Data {
		rgb.Data[i] = uint8(i)
	}
	p := testParams("7")
	p.Compression = ctscan.CompressionJPEG
	res := writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteRGBSeries(context.Background(), rgb, sink, p)
	})
	ds, err := dicom.ParseFile(filepath.Join(dir, res.Files[0]), nil, dicom.SkipPixelData())
	if err != nil {
		t.Fatal(err)
	}
	for tg, want := range map[tag.Tag]string{
		tag.TransferSyntaxUID:         sopclass.JPEGBaseline,
		tag.PhotometricInterpretation: "YBR_FULL_422",
		tag.SamplesPerPixel:           "3",
		tag.PlanarConfiguration:       "0",
	} {
		if got := findString(t, &ds, tg); got != want {
			t.Errorf("%v: got %q, want %q", tg, got, want)
		}
	}
}

func TestReadUnsupportedTransferSyntax(t *testing.T) {
	dir := t.TempDir()
	vol, _ := ctscan.NewVolume[uint8](1, 16, 16, 1)
	p := testParams("7")
	p.Compression = ctscan.CompressionJPEG
	// Label the JPEG frames as JPEG 2000, which has no decoder.
	p.ExtraTags = map[string]string{"0002|0010": "1.2.840.10008.1.2.4.91"}
	writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(context.Background(), vol, sink, p)
	})
	if _, err := ctscan.ReadDir(context.Background(), dir); !errors.Is(err, ctscan.ErrUnsupportedPixelData) {
		t.Errorf("got %v", err)
	}
}

func TestReadShapeMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	small, _ := ctscan.NewVolume[int16](2, 3, 4, 1)
	large, _ := ctscan.NewVolume[int16](2, 5, 4, 1)
	// Same SeriesID and clock, so both halves share a SeriesInstanceUID.
	writeDir(t, filepath.Join(dir, "a"), func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, small, sink, testParams("7"))
	})
	writeDir(t, filepath.Join(dir, "b"), func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, large, sink, testParams("7"))
	})
	if _, err := ctscan.ReadDir(ctx, dir); !errors.Is(err, ctscan.ErrShapeMismatch) {
		t.Errorf("got %v", err)
	}
}

func TestReadInstanceNumberOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vol := testCT(t)
	p := testParams("7")
	p.ExtraTags = map[string]string{"0020|0032": ""}
	res := writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, vol, sink, p)
	})
	s, err := ctscan.ReadDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vol.Data {
		if s.Volume.Data[i] != v {
			t.Fatalf("voxel %d: got %d, want %d", i, s.Volume.Data[i], v)
		}
	}
	for z, name := range s.Files {
		if filepath.Base(name) != res.Files[z] {
			t.Errorf("slice %d: got %s, want %s", z, name, res.Files[z])
		}
	}
	if s.Geometry.Spacing[2] != 2.5 {
		t.Errorf("slice spacing from thickness: %v", s.Geometry.Spacing)
	}
}

func TestWriteJPEG16BitFallsBack(t *testing.T) {
	dir := t.TempDir()
	p := testParams("7")
	p.Compression = ctscan.CompressionJPEG
	res := writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(context.Background(), testCT(t), sink, p)
	})
	data, err := os.ReadFile(filepath.Join(dir, res.Files[0]))
	if err != nil {
		t.Fatal(err)
	}
	if ts, err := ctscan.GetTransferSyntaxUIDInBytes(data); err != nil || ts != sopclass.ExplicitVRLittleEndian {
		t.Errorf("transfer syntax %v %v", ts, err)
	}
}

func TestManifest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := testParams("7")
	p.Manifest = true
	vol, _ := ctscan.NewVolume[int16](3, 2, 2, 1)
	writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
		return ctscan.WriteSeries(ctx, vol, sink, p)
	})
	f, err := os.Open(filepath.Join(dir, ctscan.ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	m, err := ctscan.ReadManifest(f)
	if err != nil {
		t.Fatal(err)
	}
	if m.SeriesInstanceUID != "1.7.20200102030405" || m.SOPClass != "CTImageStorage" || len(m.Files) != 3 {
		t.Errorf("manifest %+v", m)
	}
	if m.Files[2].InstanceNumber != 3 || m.Files[2].Position[2] != -25 {
		t.Errorf("file %+v", m.Files[2])
	}
	// The manifest is not mistaken for a slice.
	if s, err := ctscan.ReadDir(ctx, dir); err != nil || s.Volume.Depth != 3 {
		t.Errorf("read %v", err)
	}
}

func TestListSeries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	vol, _ := ctscan.NewVolume[int16](2, 2, 2, 1)
	for _, id := range []string{"7", "8"} {
		writeDir(t, dir, func(sink ctscan.Sink) (*ctscan.WriteResult, error) {
			return ctscan.WriteSeries(ctx, vol, sink, testParams(id))
		})
	}
	infos, err := ctscan.ListSeries(ctx, ctscan.DirSource(dir), ctscan.ReadOptions{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].SeriesInstanceUID != "1.7.20200102030405" || len(infos[1].Files) != 2 {
		t.Fatalf("infos %+v", infos)
	}
	s, err := ctscan.ReadSeries(ctx, ctscan.DirSource(dir), ctscan.ReadOptions{SeriesUID: "1.8.20200102030405"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Metadata.SeriesInstanceUID != "1.8.20200102030405" {
		t.Errorf("read %v", s.Metadata.SeriesInstanceUID)
	}
	if _, err := ctscan.ReadSeries(ctx, ctscan.DirSource(dir), ctscan.ReadOptions{SeriesUID: "1.9"}); !errors.Is(err, ctscan.ErrSeriesNotFound) {
		t.Errorf("missing series: %v", err)
	}
	if _, err := ctscan.ReadDir(ctx, t.TempDir()); !errors.Is(err, ctscan.ErrNoDICOMFiles) {
		t.Errorf("empty dir: %v", err)
	}
}

func TestLabelsFromVolume(t *testing.T) {
	v, _ := ctscan.NewVolume[int16](1, 1, 3, 1)
	copy(v.Data, []int16{-5, 2, 300})
	l := ctscan.LabelsFromVolume(v)
	if l.Data[0] != 0 || l.Data[1] != 2 || l.Data[2] != 255 {
		t.Errorf("got %v", l.Data)
	}
}

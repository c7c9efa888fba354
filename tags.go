// This file implements the tag policy used when writing a derived series:
// which tags are copied from the source study, which are derived, and which
// change per slice.
package ctscan

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagValue is one string-valued element. Multiple values are separated by
// backslashes, as in the DICOM encoding.
type TagValue struct {
	Tag   tag.Tag
	Value string
}

func (tv TagValue) String() string {
	return TagKey(tv.Tag) + "=" + tv.Value
}

var tagKeyRE = regexp.MustCompile(`^\(?\s*([0-9a-fA-F]{4})\s*[|,]\s*([0-9a-fA-F]{4})\s*\)?$`)

// ParseTagKey parses "gggg|eeee". "gggg,eeee", "(gggg,eeee)" and stray
// spaces around the separator are accepted too.
func ParseTagKey(s string) (tag.Tag, error) {
	m := tagKeyRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return tag.Tag{}, fmt.Errorf("malformed tag key %q", s)
	}
	g, _ := strconv.ParseUint(m[1], 16, 16)
	e, _ := strconv.ParseUint(m[2], 16, 16)
	return tag.Tag{Group: uint16(g), Element: uint16(e)}, nil
}

// TagKey formats t as "gggg|eeee" in lower-case hex.
func TagKey(t tag.Tag) string {
	return fmt.Sprintf("%04x|%04x", t.Group, t.Element)
}

// Stamp is the creation date and time written into a series. One Stamp is
// taken per write so that every slice of a series agrees.
type Stamp struct {
	Date string // YYYYMMDD
	Time string // HHMMSS
}

func NewStamp(t time.Time) Stamp {
	return Stamp{Date: t.Format("20060102"), Time: t.Format("150405")}
}

// SeriesUID derives the SeriesInstanceUID: "1.<seriesID>.<date><time>".
func SeriesUID(seriesID string, s Stamp) string {
	return "1." + seriesID + "." + s.Date + s.Time
}

// InstanceUID derives the SOPInstanceUID of slice i (0-based).
func InstanceUID(seriesUID string, i int) string {
	return seriesUID + "." + strconv.Itoa(i+1)
}

// ValidateUID checks the DICOM UID syntax: at most 64 characters of
// dot-separated numeric components without leading zeros.
func ValidateUID(uid string) error {
	if uid == "" || len(uid) > 64 {
		return errors.Wrapf(ErrInvalidUID, "%q: length %d", uid, len(uid))
	}
	for _, c := range strings.Split(uid, ".") {
		if c == "" {
			return errors.Wrapf(ErrInvalidUID, "%q: empty component", uid)
		}
		if len(c) > 1 && c[0] == '0' {
			return errors.Wrapf(ErrInvalidUID, "%q: component %q has a leading zero", uid, c)
		}
		for _, r := range c {
			if r < '0' || r > '9' {
				return errors.Wrapf(ErrInvalidUID, "%q: component %q is not numeric", uid, c)
			}
		}
	}
	return nil
}

// SeriesTags lists the tags shared by every slice of a derived series, in
// the order they are applied.
func SeriesTags(p WriteParams, s Stamp, seriesUID string) []TagValue {
	return []TagValue{
		{tag.SeriesTime, s.Time},
		{tag.SeriesDate, s.Date},
		{tag.ImageType, `DERIVED\SECONDARY`},
		{tag.ImageOrientationPatient, p.patientDirection()},
		{tag.StudyID, p.StudyID},
		{tag.SeriesInstanceUID, seriesUID},
		{tag.PatientID, p.PatientID},
		{tag.AccessionNumber, p.AccessionNumber},
		{tag.StudyInstanceUID, p.StudyUID},
		{tag.StudyDescription, p.StudyDescription},
		{tag.SeriesDescription, p.SeriesDescription},
	}
}

// SliceTags lists the tags specific to slice i (0-based).
func SliceTags(i int, s Stamp, seriesUID string, g Geometry) []TagValue {
	pos := g.IndexToPhysicalPoint(0, 0, i)
	return []TagValue{
		{tag.InstanceCreationDate, s.Date},
		{tag.InstanceCreationTime, s.Time},
		// Modality CT keeps the slice location meaningful to viewers.
		{tag.Modality, "CT"},
		{tag.SOPInstanceUID, InstanceUID(seriesUID, i)},
		{tag.InstanceNumber, strconv.Itoa(i + 1)},
		// Consecutive positions define the spacing between slices.
		{tag.ImagePositionPatient, formatDSList(pos[:])},
	}
}

// DefaultRGBSliceThickness is written into RGB series when no thickness is
// given.
const DefaultRGBSliceThickness = 1.5

// RGBTags lists the string-valued tags describing an RGB slice. The pixel
// module integers (SamplesPerPixel, BitsAllocated, ...) are set by the writer.
func RGBTags(sliceThickness float64) []TagValue {
	if sliceThickness <= 0 {
		sliceThickness = DefaultRGBSliceThickness
	}
	return []TagValue{
		{tag.SliceThickness, formatDS(sliceThickness)},
		{tag.NumberOfFrames, "1"},
		{tag.RescaleIntercept, "0"},
		{tag.RescaleSlope, "1"},
	}
}

// extraTags parses user-supplied "gggg|eeee" keys, sorted by tag for a
// stable output.
func extraTags(m map[string]string) ([]TagValue, error) {
	var out []TagValue
	for k, v := range m {
		t, err := ParseTagKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, TagValue{t, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag.Group != out[j].Tag.Group {
			return out[i].Tag.Group < out[j].Tag.Group
		}
		return out[i].Tag.Element < out[j].Tag.Element
	})
	return out, nil
}

// formatDS formats a decimal string value; DS values are limited to 16
// characters.
func formatDS(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if len(s) <= 16 {
		return s
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func formatDSList(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatDS(v)
	}
	return strings.Join(parts, `\`)
}

func parseDSList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, `\`) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed decimal string %q", s)
		}
		out = append(out, v)
	}
	return out, nil
}

package ctscan

import (
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// SeriesMetadata holds the study/series attributes of a series that a
// derived series copies.
type SeriesMetadata struct {
	PatientID               string
	PatientName             string
	PatientPosition         string
	StudyID                 string
	StudyInstanceUID        string
	StudyDescription        string
	SeriesInstanceUID       string
	SeriesDescription       string
	AccessionNumber         string
	Modality                string
	ImageOrientationPatient string
	FrameOfReferenceUID     string

	// Every string-valued element of the first slice, private ones included,
	// keyed "gggg|eeee".
	Tags map[string]string
}

func metadataFromDataset(ds *dicom.Dataset) SeriesMetadata {
	m := SeriesMetadata{
		PatientID:               datasetString(ds, tag.PatientID),
		PatientName:             datasetString(ds, tag.PatientName),
		PatientPosition:         datasetString(ds, tag.PatientPosition),
		StudyID:                 datasetString(ds, tag.StudyID),
		StudyInstanceUID:        datasetString(ds, tag.StudyInstanceUID),
		StudyDescription:        datasetString(ds, tag.StudyDescription),
		SeriesInstanceUID:       datasetString(ds, tag.SeriesInstanceUID),
		SeriesDescription:       datasetString(ds, tag.SeriesDescription),
		AccessionNumber:         datasetString(ds, tag.AccessionNumber),
		Modality:                datasetString(ds, tag.Modality),
		ImageOrientationPatient: datasetString(ds, tag.ImageOrientationPatient),
		FrameOfReferenceUID:     datasetString(ds, tag.FrameOfReferenceUID),
		Tags:                    make(map[string]string),
	}
	for _, elem := range ds.Elements {
		if elem.Tag == tag.PixelData {
			continue
		}
		if vals, ok := elem.Value.GetValue().([]string); ok {
			m.Tags[TagKey(elem.Tag)] = trimValue(strings.Join(vals, `\`))
		}
	}
	return m
}

// datasetString returns the backslash-joined value of a string element, or ""
// when absent.
func datasetString(ds *dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		return trimValue(strings.Join(v, `\`))
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, `\`)
	}
	return ""
}

// datasetInt reads an integer element, which may be stored either as a
// binary US/SS or as an IS string.
func datasetInt(ds *dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(trimValue(v[0]))
			return n, err == nil
		}
	}
	return 0, false
}

// datasetFloats reads a DS element.
func datasetFloats(ds *dicom.Dataset, t tag.Tag) []float64 {
	s := datasetString(ds, t)
	if s == "" {
		return nil
	}
	vs, err := parseDSList(s)
	if err != nil {
		return nil
	}
	return vs
}

// trimValue drops the space or NUL padding of an even-length value.
func trimValue(s string) string {
	return strings.Trim(s, " \x00")
}

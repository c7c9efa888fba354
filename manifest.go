package ctscan

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/covasquezv/go-ctscan/sopclass"
)

// ManifestName is the file WriteSeries adds to the sink when
// WriteParams.Manifest is set. Readers skip it: it carries no DICOM marker.
const ManifestName = "manifest.yaml"

// Manifest summarizes a written series.
type Manifest struct {
	SeriesInstanceUID string         `yaml:"series_instance_uid"`
	StudyInstanceUID  string         `yaml:"study_instance_uid,omitempty"`
	SeriesDescription string         `yaml:"series_description,omitempty"`
	Created           string         `yaml:"created"`
	SOPClass          string         `yaml:"sop_class"`
	TransferSyntax    string         `yaml:"transfer_syntax"`
	Rows              int            `yaml:"rows"`
	Columns           int            `yaml:"columns"`
	SamplesPerPixel   int            `yaml:"samples_per_pixel"`
	Spacing           []float64      `yaml:"spacing,flow"`
	Files             []ManifestFile `yaml:"files"`
}

// ManifestFile is one slice of a Manifest.
type ManifestFile struct {
	Name           string    `yaml:"name"`
	SOPInstanceUID string    `yaml:"sop_instance_uid"`
	InstanceNumber int       `yaml:"instance_number"`
	Position       []float64 `yaml:"position,flow"`
}

func newManifest[T Sample](p WriteParams, pm pixelModule, s Stamp, seriesUID string, c Compression, vol *Volume[T]) *Manifest {
	g := p.geometry()
	return &Manifest{
		SeriesInstanceUID: seriesUID,
		StudyInstanceUID:  p.StudyUID,
		SeriesDescription: p.SeriesDescription,
		Created:           s.Date + s.Time,
		SOPClass:          sopclass.UIDString(pm.sopClass),
		TransferSyntax:    sopclass.UIDString(c.transferSyntax()),
		Rows:              vol.Rows,
		Columns:           vol.Cols,
		SamplesPerPixel:   pm.samples,
		Spacing:           g.Spacing[:],
	}
}

func (m *Manifest) add(name, instanceUID string, z int, g Geometry) {
	pos := g.IndexToPhysicalPoint(0, 0, z)
	m.Files = append(m.Files, ManifestFile{
		Name:           name,
		SOPInstanceUID: instanceUID,
		InstanceNumber: z + 1,
		Position:       pos[:],
	})
}

func writeManifest(sink Sink, m *Manifest) (int64, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return 0, errors.Wrap(err, "manifest")
	}
	w, err := sink.Create(ManifestName)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: create %s", sink, ManifestName)
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	if err != nil {
		w.Close()
		return 0, errors.Wrapf(err, "%s: write %s", sink, ManifestName)
	}
	return n, w.Close()
}

// ReadManifest parses a manifest written alongside a series.
func ReadManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.NewDecoder(r).Decode(m); err != nil {
		return nil, errors.Wrap(err, "manifest")
	}
	return m, nil
}

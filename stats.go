package ctscan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the intensities of a CT volume and, optionally, the
// regions of a label volume on the same grid.
type Stats struct {
	Voxels  int
	MeanHU  float64
	StdHU   float64
	MinHU   float64
	MaxHU   float64
	Volumes []LabelStats // Sorted by label, background excluded.
}

// LabelStats describes one label region.
type LabelStats struct {
	Label  uint8
	Voxels int
	// VolumeML is the physical volume of the region in millilitres.
	VolumeML float64
	MeanHU   float64
}

// ComputeStats measures ct. If labels is not nil, every label other than 0 is
// measured too, using the voxel size of g.
func ComputeStats(ct *Volume[int16], labels *Volume[uint8], g Geometry) (*Stats, error) {
	if len(ct.Data) == 0 {
		return nil, errors.Errorf("stats: empty volume %v", ct)
	}
	if labels != nil && (labels.Samples != 1 || !sameGrid(ct, labels)) {
		return nil, errors.Wrapf(ErrShapeMismatch, "stats: image %v, labels %v", ct, labels)
	}
	hu := make([]float64, len(ct.Data))
	for i, v := range ct.Data {
		hu[i] = float64(v)
	}
	s := &Stats{Voxels: len(hu)}
	s.MeanHU, s.StdHU = stat.MeanStdDev(hu, nil)
	s.MinHU, s.MaxHU = floats.Min(hu), floats.Max(hu)
	if labels == nil {
		return s, nil
	}
	byLabel := make(map[uint8][]float64)
	for i, l := range labels.Data {
		if l != 0 {
			byLabel[l] = append(byLabel[l], hu[i])
		}
	}
	voxelML := g.VoxelVolume() / 1000
	for l, vs := range byLabel {
		s.Volumes = append(s.Volumes, LabelStats{
			Label:    l,
			Voxels:   len(vs),
			VolumeML: float64(len(vs)) * voxelML,
			MeanHU:   stat.Mean(vs, nil),
		})
	}
	sort.Slice(s.Volumes, func(i, j int) bool { return s.Volumes[i].Label < s.Volumes[j].Label })
	return s, nil
}

func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s voxels, HU mean %.1f std %.1f range [%.0f, %.0f]",
		humanize.Comma(int64(s.Voxels)), s.MeanHU, s.StdHU, s.MinHU, s.MaxHU)
	for _, l := range s.Volumes {
		fmt.Fprintf(&b, "\nlabel %d: %s voxels, %.1f mL, HU mean %.1f",
			l.Label, humanize.Comma(int64(l.Voxels)), l.VolumeML, l.MeanHU)
	}
	return b.String()
}

package ctscan_test

import (
	"math"
	"testing"

	"github.com/pkg/errors"

	"github.com/covasquezv/go-ctscan"
)

func TestComputeStats(t *testing.T) {
	ct, _ := ctscan.NewVolume[int16](1, 2, 2, 1)
	copy(ct.Data, []int16{-1000, -800, 0, 40})
	labels, _ := ctscan.NewVolume[uint8](1, 2, 2, 1)
	copy(labels.Data, []uint8{1, 1, 0, 2})
	g := ctscan.NewGeometry([3]float64{1, 2, 5})

	s, err := ctscan.ComputeStats(ct, labels, g)
	if err != nil {
		t.Fatal(err)
	}
	if s.Voxels != 4 || s.MeanHU != -440 || s.MinHU != -1000 || s.MaxHU != 40 {
		t.Errorf("stats %+v", s)
	}
	if len(s.Volumes) != 2 {
		t.Fatalf("volumes %+v", s.Volumes)
	}
	l1 := s.Volumes[0]
	if l1.Label != 1 || l1.Voxels != 2 || math.Abs(l1.VolumeML-0.02) > 1e-12 || l1.MeanHU != -900 {
		t.Errorf("label 1: %+v", l1)
	}
	if s.Volumes[1].Label != 2 || s.Volumes[1].MeanHU != 40 {
		t.Errorf("label 2: %+v", s.Volumes[1])
	}
	if s.String() == "" {
		t.Error("empty String")
	}

	other, _ := ctscan.NewVolume[uint8](2, 2, 2, 1)
	if _, err := ctscan.ComputeStats(ct, other, g); !errors.Is(err, ctscan.ErrShapeMismatch) {
		t.Errorf("shape mismatch: %v", err)
	}
	if s, err := ctscan.ComputeStats(ct, nil, g); err != nil || len(s.Volumes) != 0 {
		t.Errorf("no labels: %v %v", s, err)
	}
	if _, err := ctscan.ComputeStats(&ctscan.Volume[int16]{}, nil, g); err == nil {
		t.Error("expected an error for an empty volume")
	}
}

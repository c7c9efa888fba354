// This file defines the in-memory volume layout shared by every operation in
// the package.
package ctscan

import (
	"fmt"
)

// Sample is the set of voxel types a Volume can hold.
type Sample interface {
	~uint8 | ~int16 | ~uint16
}

// Volume is a dense 3-D (optionally multi-sample) array.
//
// Depth is always the slowest axis: voxel (z, y, x) sample s lives at
//
//	Data[((z*Rows+y)*Cols+x)*Samples+s]
//
// Grayscale and label volumes have Samples == 1, RGB volumes have
// Samples == 3 with interleaved R, G, B.
type Volume[T Sample] struct {
	Depth, Rows, Cols int
	Samples           int
	Data              []T
}

// NewVolume allocates a zero-filled volume.
func NewVolume[T Sample](depth, rows, cols, samples int) (*Volume[T], error) {
	if depth <= 0 || rows <= 0 || cols <= 0 || samples <= 0 {
		return nil, fmt.Errorf("NewVolume: invalid shape %dx%dx%dx%d", depth, rows, cols, samples)
	}
	return &Volume[T]{
		Depth:   depth,
		Rows:    rows,
		Cols:    cols,
		Samples: samples,
		Data:    make([]T, depth*rows*cols*samples),
	}, nil
}

// FromDepthLast builds a depth-major volume out of "data", which is laid out
// with the slice index as the fastest axis, i.e. data[(y*cols+x)*depth+z].
func FromDepthLast[T Sample](data []T, rows, cols, depth int) (*Volume[T], error) {
	if len(data) != rows*cols*depth {
		return nil, fmt.Errorf("FromDepthLast: got %d values, want %d", len(data), rows*cols*depth)
	}
	v, err := NewVolume[T](depth, rows, cols, 1)
	if err != nil {
		return nil, err
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			src := (y*cols + x) * depth
			for z := 0; z < depth; z++ {
				v.Data[(z*rows+y)*cols+x] = data[src+z]
			}
		}
	}
	return v, nil
}

func (v *Volume[T]) index(z, y, x, s int) int {
	return ((z*v.Rows+y)*v.Cols+x)*v.Samples + s
}

// At returns sample s of voxel (z, y, x).
func (v *Volume[T]) At(z, y, x, s int) T { return v.Data[v.index(z, y, x, s)] }

// Set stores sample s of voxel (z, y, x).
func (v *Volume[T]) Set(z, y, x, s int, val T) { v.Data[v.index(z, y, x, s)] = val }

// SliceLen is the number of values in one slice.
func (v *Volume[T]) SliceLen() int { return v.Rows * v.Cols * v.Samples }

// Slice returns slice z. The result aliases v.Data.
func (v *Volume[T]) Slice(z int) []T {
	n := v.SliceLen()
	return v.Data[z*n : (z+1)*n : (z+1)*n]
}

// ForEachSlice calls fn for z = 0, 1, ..., Depth-1, in that order, and stops
// at the first error.
func (v *Volume[T]) ForEachSlice(fn func(z int, slice []T) error) error {
	for z := 0; z < v.Depth; z++ {
		if err := fn(z, v.Slice(z)); err != nil {
			return err
		}
	}
	return nil
}

// Bytes is the in-memory size of the voxel data.
func (v *Volume[T]) Bytes() int64 {
	var zero T
	return int64(len(v.Data)) * int64(sampleBits(zero)/8)
}

func (v *Volume[T]) String() string {
	return fmt.Sprintf("volume(%dx%dx%d, samples=%d)", v.Depth, v.Rows, v.Cols, v.Samples)
}

// sameGrid reports whether a and b have the same depth and in-plane size.
func sameGrid[A, B Sample](a *Volume[A], b *Volume[B]) bool {
	return a.Depth == b.Depth && a.Rows == b.Rows && a.Cols == b.Cols
}

func sampleBits[T Sample](v T) int {
	switch any(v).(type) {
	case uint8:
		return 8
	default:
		return 16
	}
}

func sampleSigned[T Sample](v T) bool {
	_, ok := any(v).(int16)
	return ok
}

// Geometry places a volume in patient space, following the DICOM LPS
// convention.
type Geometry struct {
	Origin [3]float64 // ImagePositionPatient of slice 0
	// Spacing in mm: x = between columns, y = between rows, z = between slices.
	Spacing [3]float64
	// Row cosine, column cosine and slice normal, in that order.
	Direction [9]float64
}

// NewGeometry returns an axis-aligned geometry at the origin.
func NewGeometry(spacing [3]float64) Geometry {
	return Geometry{
		Spacing:   spacing,
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// IndexToPhysicalPoint maps voxel index (i=column, j=row, k=slice) to
// patient coordinates.
func (g Geometry) IndexToPhysicalPoint(i, j, k int) [3]float64 {
	var p [3]float64
	for a := 0; a < 3; a++ {
		p[a] = g.Origin[a] +
			float64(i)*g.Spacing[0]*g.Direction[a] +
			float64(j)*g.Spacing[1]*g.Direction[3+a] +
			float64(k)*g.Spacing[2]*g.Direction[6+a]
	}
	return p
}

// VoxelVolume is the volume of one voxel, in mm^3.
func (g Geometry) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

func (g Geometry) isZero() bool {
	return g.Direction == [9]float64{}
}

package fuzzseries

// Round-trips a small volume built from the fuzz input through WriteSeries
// and ReadSeries, corrupting some of the written files on the way back.

import (
	"context"
	"fmt"
	"time"

	"github.com/covasquezv/go-ctscan"
	"github.com/covasquezv/go-ctscan/sopclass"
)

// volumeFromFuzz uses the first three bytes for the shape and the rest for
// the voxels, little endian.
func volumeFromFuzz(data []byte) (*ctscan.Volume[int16], []byte) {
	if len(data) < 3 {
		return nil, nil
	}
	depth, rows, cols := int(data[0]%4)+1, int(data[1]%8)+1, int(data[2]%8)+1
	data = data[3:]
	vol, err := ctscan.NewVolume[int16](depth, rows, cols, 1)
	if err != nil {
		panic(err)
	}
	for i := range vol.Data {
		if 2*i+1 < len(data) {
			vol.Data[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		}
	}
	if n := 2 * len(vol.Data); n < len(data) {
		return vol, data[n:]
	}
	return vol, nil
}

func Fuzz(data []byte) int {
	vol, rest := volumeFromFuzz(data)
	if vol == nil {
		return -1
	}
	ctx := context.Background()
	mem := newMemSeries()
	p := ctscan.NewWriteParams("42")
	p.Now = func() time.Time { return time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC) }
	if _, err := ctscan.WriteSeries(ctx, vol, mem, p); err != nil {
		panic(fmt.Sprintf("write %v: %v", vol, err))
	}
	for name, b := range mem.files {
		ts, err := ctscan.GetTransferSyntaxUIDInBytes(b.Bytes())
		if err != nil || ts != sopclass.ExplicitVRLittleEndian {
			panic(fmt.Sprintf("%s: transfer syntax %q, %v", name, ts, err))
		}
	}
	faults := NewFaultInjector(rest)
	mem.faults = faults
	s, err := ctscan.ReadSeries(ctx, mem, ctscan.ReadOptions{Workers: 1})
	if faults.Injected() > 0 {
		if err != nil {
			return 0
		}
		return 1
	}
	if err != nil {
		panic(fmt.Sprintf("read %v: %v", vol, err))
	}
	for i, v := range vol.Data {
		if s.Volume.Data[i] != v {
			panic(fmt.Sprintf("voxel %d: got %d, want %d", i, s.Volume.Data[i], v))
		}
	}
	return 1
}

package fuzzseries

import (
	"bytes"
	"io"
	"sort"

	"github.com/covasquezv/go-ctscan"
)

type faultInjectorAction int

const (
	faultInjectorContinue faultInjectorAction = iota
	faultInjectorTruncate
	faultInjectorFlip
)

// FaultInjector corrupts files as they are opened, driven by fuzz bytes.
type FaultInjector struct {
	fuzz     []byte
	steps    int
	injected int
}

func NewFaultInjector(fuzz []byte) *FaultInjector {
	return &FaultInjector{fuzz: fuzz}
}

func (f *FaultInjector) nextFuzzByte() byte {
	v := f.fuzz[f.steps]
	f.steps++
	if f.steps >= len(f.fuzz) {
		f.steps = 0
	}
	return v
}

func (f *FaultInjector) nextFuzzUInt32() uint32 {
	return (uint32(f.nextFuzzByte()) << 24) |
		(uint32(f.nextFuzzByte()) << 16) |
		(uint32(f.nextFuzzByte()) << 8) |
		uint32(f.nextFuzzByte())
}

// Injected is the number of files corrupted so far.
func (f *FaultInjector) Injected() int { return f.injected }

func (f *FaultInjector) onOpen(data []byte) []byte {
	if len(f.fuzz) == 0 || len(data) == 0 {
		return data
	}
	var action faultInjectorAction
	switch op := f.nextFuzzByte(); {
	case op >= 0xf0:
		action = faultInjectorTruncate
	case op >= 0xe0:
		action = faultInjectorFlip
	}
	switch action {
	case faultInjectorTruncate:
		f.injected++
		return data[:int(f.nextFuzzUInt32()%uint32(len(data)))]
	case faultInjectorFlip:
		f.injected++
		out := append([]byte(nil), data...)
		out[int(f.nextFuzzUInt32()%uint32(len(out)))] ^= f.nextFuzzByte() | 1
		return out
	}
	return data
}

// memSeries holds a written series in memory. It is both the Sink the
// series is written to and the Source it is read back from.
type memSeries struct {
	files  map[string]*bytes.Buffer
	faults *FaultInjector
}

func newMemSeries() *memSeries {
	return &memSeries{files: make(map[string]*bytes.Buffer)}
}

func (m *memSeries) String() string { return "mem" }

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func (m *memSeries) Create(name string) (io.WriteCloser, error) {
	b := &bytes.Buffer{}
	m.files[name] = b
	return nopCloser{b}, nil
}

func (m *memSeries) Close() error { return nil }

func (m *memSeries) List() ([]string, error) {
	var names []string
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memSeries) Open(name string) (io.ReadCloser, int64, error) {
	data := m.files[name].Bytes()
	if m.faults != nil {
		data = m.faults.onOpen(data)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

var (
	_ ctscan.Sink   = (*memSeries)(nil)
	_ ctscan.Source = (*memSeries)(nil)
)

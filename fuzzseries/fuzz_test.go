package fuzzseries

import (
	"testing"
)

var seeds = [][]byte{
	{0, 0, 0, 1, 2},
	{1, 3, 2, 0x18, 0xfc, 0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	{3, 7, 7},
	// Trailing bytes corrupt the files read back.
	{0, 1, 1, 0x10, 0x00, 0x00, 0x00, 0xff, 0, 0, 0, 9},
}

func TestSeeds(t *testing.T) {
	for _, seed := range seeds {
		Fuzz(seed)
	}
}

func TestFaultInjectorTruncates(t *testing.T) {
	f := NewFaultInjector([]byte{0xff, 0, 0, 0, 3})
	got := f.onOpen([]byte("abcdefgh"))
	if string(got) != "abc" || f.Injected() != 1 {
		t.Errorf("got %q, %d faults", got, f.Injected())
	}
}

func TestFaultInjectorContinue(t *testing.T) {
	f := NewFaultInjector([]byte{0x00})
	if got := f.onOpen([]byte("abc")); string(got) != "abc" || f.Injected() != 0 {
		t.Errorf("got %q, %d faults", got, f.Injected())
	}
}

func FuzzSeries(f *testing.F) {
	for _, seed := range seeds {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		Fuzz(data)
	})
}

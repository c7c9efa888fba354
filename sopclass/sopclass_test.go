package sopclass_test

import (
	"testing"

	"github.com/covasquezv/go-ctscan/sopclass"
)

func TestLookup(t *testing.T) {
	s, ok := sopclass.Lookup(sopclass.CTImageStorage)
	if !ok || s.Name != "CTImageStorage" {
		t.Errorf("Lookup %v %v", s, ok)
	}
	if _, ok := sopclass.Lookup("1.2.3"); ok {
		t.Error("Lookup of an unknown UID succeeded")
	}
}

func TestUIDString(t *testing.T) {
	if s := sopclass.UIDString(sopclass.JPEGBaseline); s != "JPEGBaseline" {
		t.Errorf("UIDString %v", s)
	}
	if s := sopclass.UIDString("1.2.3"); s != "1.2.3" {
		t.Errorf("UIDString %v", s)
	}
}

func TestIsNative(t *testing.T) {
	if !sopclass.IsNative(sopclass.ExplicitVRLittleEndian) || sopclass.IsNative(sopclass.JPEGBaseline) {
		t.Error("IsNative")
	}
}

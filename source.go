// This file implements the places a series can be read from and written to:
// a directory tree or a zip archive.
package ctscan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// Source lists and opens the files of a DICOM series.
type Source interface {
	fmt.Stringer // Where the series comes from, for logging.
	// List returns the names of the candidate DICOM files, sorted.
	List() ([]string, error)
	// Open returns the contents of a listed file and its size.
	Open(name string) (io.ReadCloser, int64, error)
}

// Sink receives the files of a written series.
type Sink interface {
	fmt.Stringer
	// Create starts a new file. It must be closed before the next Create.
	Create(name string) (io.WriteCloser, error)
	Close() error
}

// OpenSource picks a ZipSource for paths ending in ".zip" and a DirSource
// otherwise. Release it with CloseSource.
func OpenSource(path string) (Source, error) {
	if isZipPath(path) {
		zs, err := NewZipSource(path)
		if err != nil {
			return nil, err
		}
		return zs, nil
	}
	return DirSource(path), nil
}

// CloseSource releases src if it holds open files.
func CloseSource(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// CreateSink picks a ZipSink for paths ending in ".zip" and a DirSink
// otherwise.
func CreateSink(path string) (Sink, error) {
	if isZipPath(path) {
		zs, err := NewZipSink(path)
		if err != nil {
			return nil, err
		}
		return zs, nil
	}
	ds, err := NewDirSink(path)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func isZipPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// DirSource reads DICOM files under a directory, recursively.
//
// Files ending in ".dcm" are taken. If a directory contains a file named
// "DICOMDIR", every other file in that directory is taken. Files without an
// extension are taken if they carry the "DICM" preamble marker.
type DirSource string

func (d DirSource) String() string { return string(d) }

func (d DirSource) List() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			names = append(names, path)
		}
	}
	walkCallback := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			vlog.Errorf("%v: skip file: %v", path, err)
			return nil
		}
		if info.IsDir() {
			if _, err := os.Stat(filepath.Join(path, "DICOMDIR")); err != nil {
				return nil
			}
			subpaths, err := filepath.Glob(filepath.Join(path, "*"))
			if err != nil {
				vlog.Errorf("%v: glob: %v", path, err)
				return nil
			}
			for _, subpath := range subpaths {
				if st, err := os.Stat(subpath); err == nil && !st.IsDir() && !skipName(filepath.Base(subpath)) {
					add(subpath)
				}
			}
			return nil
		}
		switch {
		case skipName(info.Name()):
		case strings.EqualFold(filepath.Ext(path), ".dcm"):
			add(path)
		case filepath.Ext(path) == "" && hasDICMMarker(path):
			add(path)
		}
		return nil
	}
	if err := filepath.Walk(string(d), walkCallback); err != nil {
		return nil, errors.Wrapf(err, "%s: walk", d)
	}
	sort.Strings(names)
	return names, nil
}

func (d DirSource) Open(name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

// skipName reports files that sit next to a series but are not slices.
func skipName(name string) bool {
	return name == "DICOMDIR" || name == ManifestName
}

// hasDICMMarker checks for "DICM" after the 128-byte preamble.
func hasDICMMarker(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var buf [132]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return false
	}
	return bytes.Equal(buf[128:], []byte("DICM"))
}

// ZipSource reads the DICOM files stored in a zip archive.
type ZipSource struct {
	path  string
	r     *zip.ReadCloser
	files map[string]*zip.File
}

// NewZipSource opens the archive at path. Call Close when done.
func NewZipSource(path string) (*ZipSource, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: open archive", path)
	}
	zs := &ZipSource{path: path, r: r, files: make(map[string]*zip.File)}
	for _, f := range r.File {
		if base := filepath.Base(f.Name); f.FileInfo().IsDir() || base == "DICOMDIR" || base == ManifestName {
			continue
		}
		zs.files[f.Name] = f
	}
	return zs, nil
}

func (zs *ZipSource) String() string { return zs.path }

func (zs *ZipSource) List() ([]string, error) {
	names := make([]string, 0, len(zs.files))
	for name := range zs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (zs *ZipSource) Open(name string) (io.ReadCloser, int64, error) {
	f, ok := zs.files[name]
	if !ok {
		return nil, 0, errors.Errorf("%s: no entry %q", zs.path, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s: %s", zs.path, name)
	}
	return rc, int64(f.UncompressedSize64), nil
}

func (zs *ZipSource) Close() error { return zs.r.Close() }

// DirSink writes files into a directory, creating it if needed.
type DirSink struct {
	dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "%s: mkdir", dir)
	}
	return &DirSink{dir: dir}, nil
}

func (d *DirSink) String() string { return d.dir }

func (d *DirSink) Create(name string) (io.WriteCloser, error) {
	return os.Create(filepath.Join(d.dir, name))
}

func (d *DirSink) Close() error { return nil }

// ZipSink writes files into a single zip archive.
type ZipSink struct {
	path string
	f    *os.File
	w    *zip.Writer
}

func NewZipSink(path string) (*ZipSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "%s: mkdir", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: create", path)
	}
	return &ZipSink{path: path, f: f, w: zip.NewWriter(f)}, nil
}

func (zs *ZipSink) String() string { return zs.path }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (zs *ZipSink) Create(name string) (io.WriteCloser, error) {
	w, err := zs.w.Create(name)
	if err != nil {
		return nil, err
	}
	return nopWriteCloser{w}, nil
}

func (zs *ZipSink) Close() error {
	if err := zs.w.Close(); err != nil {
		zs.f.Close()
		return errors.Wrapf(err, "%s: finish archive", zs.path)
	}
	return zs.f.Close()
}

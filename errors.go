package ctscan

import "github.com/pkg/errors"

// Errors callers may test for with errors.Cause or errors.Is.
var (
	ErrNoDICOMFiles         = errors.New("no DICOM files found")
	ErrSeriesNotFound       = errors.New("series not found")
	ErrShapeMismatch        = errors.New("volume shapes differ")
	ErrInvalidUID           = errors.New("invalid DICOM UID")
	ErrUnsupportedPixelData = errors.New("unsupported pixel data")
)

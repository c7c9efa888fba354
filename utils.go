package ctscan

import (
	"bytes"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// GetTransferSyntaxUIDInBytes parses the beginning of "data" as a DICOM file
// and extracts its TransferSyntaxUID.
func GetTransferSyntaxUIDInBytes(data []byte) (string, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return "", err
	}
	elem, err := ds.FindElementByTag(tag.TransferSyntaxUID)
	if err != nil {
		return "", err
	}
	vals, ok := elem.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return "", ErrUnsupportedPixelData
	}
	return trimValue(vals[0]), nil
}

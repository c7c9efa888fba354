package sopclass

// DICOM UID registry for the SOP classes and transfer syntaxes this module
// reads and writes.
//
// https://www.dicomlibrary.com/dicom/sop/
// https://www.dicomlibrary.com/dicom/transfer-syntax/

type SOPUID struct {
	Name string
	UID  string
}

// SOP classes used when writing a series.
const (
	CTImageStorage               = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage       = "1.2.840.10008.5.1.4.1.1.2.1"
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"
)

// Transfer syntaxes.
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian    = "1.2.840.10008.1.2.2"
	JPEGBaseline           = "1.2.840.10008.1.2.4.50"
)

// Image storage classes a CT series may come in.
var StorageClasses = []SOPUID{
	SOPUID{"CTImageStorage", CTImageStorage},
	SOPUID{"EnhancedCTImageStorage", EnhancedCTImageStorage},
	SOPUID{"LegacyConvertedEnhancedCTImageStorage", "1.2.840.10008.5.1.4.1.1.2.2"},
	SOPUID{"SecondaryCaptureImageStorage", SecondaryCaptureImageStorage},
	SOPUID{"MultiframeGrayscaleByteSecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7.2"},
	SOPUID{"MultiframeGrayscaleWordSecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7.3"},
	SOPUID{"MultiframeTrueColorSecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7.4"},
	SOPUID{"SegmentationStorage", "1.2.840.10008.5.1.4.1.1.66.4"},
}

var TransferSyntaxes = []SOPUID{
	SOPUID{"ImplicitVRLittleEndian", ImplicitVRLittleEndian},
	SOPUID{"ExplicitVRLittleEndian", ExplicitVRLittleEndian},
	SOPUID{"ExplicitVRBigEndian", ExplicitVRBigEndian},
	SOPUID{"DeflatedExplicitVRLittleEndian", "1.2.840.10008.1.2.1.99"},
	SOPUID{"JPEGBaseline", JPEGBaseline},
	SOPUID{"JPEGLossless", "1.2.840.10008.1.2.4.70"},
	SOPUID{"JPEGLSLossless", "1.2.840.10008.1.2.4.80"},
	SOPUID{"JPEG2000Lossless", "1.2.840.10008.1.2.4.90"},
	SOPUID{"JPEG2000", "1.2.840.10008.1.2.4.91"},
	SOPUID{"RLELossless", "1.2.840.10008.1.2.5"},
}

var byUID map[string]SOPUID

func init() {
	byUID = make(map[string]SOPUID)
	for _, list := range [][]SOPUID{StorageClasses, TransferSyntaxes} {
		for _, s := range list {
			byUID[s.UID] = s
		}
	}
}

// Lookup finds a SOP class or transfer syntax by UID.
func Lookup(uid string) (SOPUID, bool) {
	s, ok := byUID[uid]
	return s, ok
}

// UIDString returns a human-readable name for uid, for logging. Unknown UIDs
// are returned as is.
func UIDString(uid string) string {
	if s, ok := byUID[uid]; ok {
		return s.Name
	}
	return uid
}

// IsNative reports whether pixel data in the given transfer syntax is stored
// uncompressed.
func IsNative(transferSyntaxUID string) bool {
	switch transferSyntaxUID {
	case ImplicitVRLittleEndian, ExplicitVRLittleEndian, ExplicitVRBigEndian, "1.2.840.10008.1.2.1.99":
		return true
	}
	return false
}

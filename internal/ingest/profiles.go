package ingest

import (
	"regexp"
	"strings"
	"time"
)

// CameraProfile resolves a camera serial for an incoming file. Profiles are
// matched in registration order; the first match wins.
type CameraProfile struct {
	Name string

	// Matches decides whether this profile applies to the file.
	Matches func(filename string, meta *ExifMetadata) bool

	// Serial extracts the camera serial. Empty means the profile matched
	// but the serial could not be resolved.
	Serial func(filename string, meta *ExifMetadata) string

	// RequireDateTimeOriginal rejects images without a capture timestamp
	// instead of falling back to the upload time.
	RequireDateTimeOriginal bool
}

// legacySerials maps the friendly camera names older firmwares embed in
// filenames to the IMEI-style serials the fleet is registered under.
var legacySerials = map[string]string{
	"WUH09": "860946063660255",
	"WUH10": "860946063661012",
	"WUH11": "860946063658903",
	"WUH12": "860946063659887",
}

// legacyFilenamePattern matches e.g. WUH09_20240511_063012.jpg.
var legacyFilenamePattern = regexp.MustCompile(`^([A-Z]{3}\d{2})_\d{8}_\d{6}`)

// Profiles is the ordered registry consulted per file.
var Profiles = []CameraProfile{
	{
		Name: "exif-serial",
		Matches: func(_ string, meta *ExifMetadata) bool {
			return meta != nil && meta.SerialNumber != ""
		},
		Serial: func(_ string, meta *ExifMetadata) string {
			return strings.TrimSpace(meta.SerialNumber)
		},
		RequireDateTimeOriginal: true,
	},
	{
		Name: "legacy-filename",
		Matches: func(filename string, _ *ExifMetadata) bool {
			m := legacyFilenamePattern.FindStringSubmatch(filename)
			if m == nil {
				return false
			}
			_, ok := legacySerials[m[1]]
			return ok
		},
		Serial: func(filename string, _ *ExifMetadata) string {
			m := legacyFilenamePattern.FindStringSubmatch(filename)
			return legacySerials[m[1]]
		},
		// Legacy units strip EXIF when transcoding; captured-at falls
		// back to upload time.
		RequireDateTimeOriginal: false,
	},
}

// ResolveCamera walks the profile registry and returns the serial and the
// capture time. A nil error with empty serial never happens; unmatched files
// are rejected as unsupported_camera.
func ResolveCamera(filename string, meta *ExifMetadata, now time.Time) (serial string, capturedAt time.Time, err error) {
	for _, p := range Profiles {
		if !p.Matches(filename, meta) {
			continue
		}
		serial = p.Serial(filename, meta)
		if serial == "" {
			continue
		}
		if meta != nil && meta.DateTimeOriginal != nil {
			return serial, *meta.DateTimeOriginal, nil
		}
		if p.RequireDateTimeOriginal {
			return "", time.Time{}, reject(ReasonMissingTimestamp, "profile %s requires DateTimeOriginal", p.Name)
		}
		return serial, now.UTC(), nil
	}
	return "", time.Time{}, reject(ReasonUnsupportedCamera, "no camera profile matched %q", filename)
}

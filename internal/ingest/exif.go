package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// LatLon is a resolved decimal GPS position.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ExifMetadata holds the fields the pipeline cares about plus the full raw
// tag dump for the image metadata blob.
type ExifMetadata struct {
	Make             string
	Model            string
	SerialNumber     string
	DateTimeOriginal *time.Time
	GPS              *LatLon
	Raw              map[string]string
}

// ExtractExif parses the EXIF block. A missing or unreadable block is not an
// error here: camera profiles decide whether the absent fields are fatal.
func ExtractExif(jpegData []byte) *ExifMetadata {
	meta := &ExifMetadata{Raw: make(map[string]string)}

	x, err := exif.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return meta
	}

	x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		meta.Raw[string(name)] = strings.Trim(tag.String(), `"`)
		return nil
	}))

	meta.Make = rawString(x, exif.Make)
	meta.Model = rawString(x, exif.Model)
	meta.SerialNumber = meta.Raw["SerialNumber"]

	if dt, err := x.DateTime(); err == nil {
		utc := dt.UTC()
		meta.DateTimeOriginal = &utc
	}

	if lat, lon, err := x.LatLong(); err == nil {
		if pos := filterGPS(lat, lon); pos != nil {
			meta.GPS = pos
		}
	}
	return meta
}

type walkFunc func(exif.FieldName, *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error { return f(name, tag) }

func rawString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return strings.Trim(tag.String(), `"`)
	}
	return strings.TrimSpace(s)
}

// (0,0) is the null island sentinel some firmwares emit before a GPS fix.
func filterGPS(lat, lon float64) *LatLon {
	if lat == 0 && lon == 0 {
		return nil
	}
	return &LatLon{Lat: lat, Lon: lon}
}

// dmsPattern matches the asterisk DMS form trap firmwares write, e.g.
// N52*05'55" E005*07'31".
var dmsPattern = regexp.MustCompile(`([NS])\s*(\d+)\*(\d+)'(\d+(?:\.\d+)?)"\s+([EW])\s*(\d+)\*(\d+)'(\d+(?:\.\d+)?)"`)

// ParseGPSString parses either decimal "lat,lon" or DMS-with-asterisks
// coordinates into a decimal tuple, filtering (0,0).
func ParseGPSString(s string) (*LatLon, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty GPS string")
	}

	if m := dmsPattern.FindStringSubmatch(s); m != nil {
		lat, err := dmsToDecimal(m[2], m[3], m[4])
		if err != nil {
			return nil, err
		}
		if m[1] == "S" {
			lat = -lat
		}
		lon, err := dmsToDecimal(m[6], m[7], m[8])
		if err != nil {
			return nil, err
		}
		if m[5] == "W" {
			lon = -lon
		}
		if pos := filterGPS(lat, lon); pos != nil {
			return pos, nil
		}
		return nil, fmt.Errorf("GPS at origin")
	}

	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("unrecognized GPS format %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q", parts[1])
	}
	if pos := filterGPS(lat, lon); pos != nil {
		return pos, nil
	}
	return nil, fmt.Errorf("GPS at origin")
}

func dmsToDecimal(deg, min, sec string) (float64, error) {
	d, err := strconv.ParseFloat(deg, 64)
	if err != nil {
		return 0, err
	}
	m, err := strconv.ParseFloat(min, 64)
	if err != nil {
		return 0, err
	}
	s, err := strconv.ParseFloat(sec, 64)
	if err != nil {
		return 0, err
	}
	return d + m/60 + s/3600, nil
}

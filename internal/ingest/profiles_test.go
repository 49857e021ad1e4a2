package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCameraExifSerial(t *testing.T) {
	shot := time.Date(2025, 12, 5, 15, 46, 7, 0, time.UTC)
	meta := &ExifMetadata{SerialNumber: "861943070068027", DateTimeOriginal: &shot}

	serial, capturedAt, err := ResolveCamera("E1000159.JPG", meta, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "861943070068027", serial)
	assert.Equal(t, shot, capturedAt)
}

func TestResolveCameraExifSerialNoTimestamp(t *testing.T) {
	meta := &ExifMetadata{SerialNumber: "861943070068027"}

	_, _, err := ResolveCamera("E1000159.JPG", meta, time.Now())
	re, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingTimestamp, re.Reason)
}

func TestResolveCameraLegacyFilename(t *testing.T) {
	now := time.Date(2025, 12, 19, 16, 0, 0, 0, time.UTC)

	serial, capturedAt, err := ResolveCamera("WUH09_20240511_063012.jpg", &ExifMetadata{}, now)
	require.NoError(t, err)
	assert.Equal(t, "860946063660255", serial)
	// Legacy units strip EXIF, so capture time falls back to upload time.
	assert.Equal(t, now, capturedAt)
}

func TestResolveCameraUnknown(t *testing.T) {
	_, _, err := ResolveCamera("IMG_0001.jpg", &ExifMetadata{}, time.Now())
	re, ok := AsReject(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUnsupportedCamera, re.Reason)
}

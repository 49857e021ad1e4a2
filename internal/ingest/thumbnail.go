package ingest

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

const (
	thumbWidth   = 300
	thumbQuality = 85
)

// MakeThumbnail produces a 300 px wide JPEG with preserved aspect ratio.
func MakeThumbnail(jpegData []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, reject(ReasonInvalidJPEG, "decode failed: %v", err)
	}

	// Height 0 keeps the aspect ratio.
	thumb := imaging.Resize(src, thumbWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

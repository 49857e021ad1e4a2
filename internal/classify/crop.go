package classify

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/technosupport/ts-trapnet/internal/data"
)

// SquareCropRect converts a normalized bbox into a square pixel rectangle:
// the shorter side is widened by half the difference on each end, then the
// rect is clipped to the image bounds.
func SquareCropRect(box data.NormBox, width, height int) image.Rectangle {
	x := box.X * float64(width)
	y := box.Y * float64(height)
	w := box.W * float64(width)
	h := box.H * float64(height)

	if w < h {
		pad := (h - w) / 2
		x -= pad
		w = h
	} else if h < w {
		pad := (w - h) / 2
		y -= pad
		h = w
	}

	rect := image.Rect(int(x), int(y), int(x+w), int(y+h))
	return rect.Intersect(image.Rect(0, 0, width, height))
}

// SquareCrop extracts the square crop for a detection bbox.
func SquareCrop(img image.Image, box data.NormBox) image.Image {
	rect := SquareCropRect(box, img.Bounds().Dx(), img.Bounds().Dy())
	return imaging.Crop(img, rect)
}

package classify

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/technosupport/ts-trapnet/internal/data"
)

const strokeColor = "#EF4444"

var labelFont, _ = truetype.Parse(gobold.TTF)

// Annotation is one box plus its two-line label.
type Annotation struct {
	Box      data.NormBox
	Category string
	// Detector confidence for the category line.
	Confidence float64
	// Species and its confidence; empty species renders a one-line label.
	Species           string
	SpeciesConfidence float64
}

// BlurRegion is a pixel area to obscure before annotation.
type BlurRegion struct {
	Box data.NormBox
}

// RenderAnnotated draws corner-bracket boxes and labels over the image and
// returns a JPEG. Blur regions are applied first so privacy masking happens
// under the overlay.
func RenderAnnotated(src image.Image, annotations []Annotation, blurs []BlurRegion) ([]byte, error) {
	width := src.Bounds().Dx()
	height := src.Bounds().Dy()

	if len(blurs) > 0 {
		src = applyBlurs(src, blurs)
	}

	// All stroke and text sizes scale with image width.
	s := float64(width) / 1000
	if s < 0.5 {
		s = 0.5
	}

	dc := gg.NewContextForImage(src)
	fontSize := 9 * s
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, a := range annotations {
		x := a.Box.X * float64(width)
		y := a.Box.Y * float64(height)
		w := a.Box.W * float64(width)
		h := a.Box.H * float64(height)

		drawCornerBrackets(dc, x, y, w, h, s)
		drawLabel(dc, a, x, y, s, fontSize, float64(width), float64(height))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("annotated encode: %w", err)
	}
	return buf.Bytes(), nil
}

// applyBlurs gaussian-blurs each region, radius proportional to image size
// within the 15 to 25 px band.
func applyBlurs(src image.Image, blurs []BlurRegion) image.Image {
	width := src.Bounds().Dx()
	height := src.Bounds().Dy()

	sigma := float64(width) / 100
	if sigma < 15 {
		sigma = 15
	}
	if sigma > 25 {
		sigma = 25
	}

	canvas := imaging.Clone(src)
	for _, b := range blurs {
		rect := image.Rect(
			int(b.Box.X*float64(width)),
			int(b.Box.Y*float64(height)),
			int((b.Box.X+b.Box.W)*float64(width)),
			int((b.Box.Y+b.Box.H)*float64(height)),
		).Intersect(canvas.Bounds())
		if rect.Empty() {
			continue
		}
		region := imaging.Crop(canvas, rect)
		blurred := imaging.Blur(region, sigma)
		canvas = imaging.Paste(canvas, blurred, rect.Min)
	}
	return canvas
}

// drawCornerBrackets strokes the four L-shaped corners of the box.
func drawCornerBrackets(dc *gg.Context, x, y, w, h, s float64) {
	bracket := 12 * s
	if bracket > w/2 {
		bracket = w / 2
	}
	if bracket > h/2 {
		bracket = h / 2
	}

	dc.SetHexColor(strokeColor)
	dc.SetLineWidth(4 * s)
	dc.SetLineCapRound()

	// Top-left
	dc.MoveTo(x, y+bracket)
	dc.LineTo(x, y)
	dc.LineTo(x+bracket, y)
	// Top-right
	dc.MoveTo(x+w-bracket, y)
	dc.LineTo(x+w, y)
	dc.LineTo(x+w, y+bracket)
	// Bottom-right
	dc.MoveTo(x+w, y+h-bracket)
	dc.LineTo(x+w, y+h)
	dc.LineTo(x+w-bracket, y+h)
	// Bottom-left
	dc.MoveTo(x+bracket, y+h)
	dc.LineTo(x, y+h)
	dc.LineTo(x, y+h-bracket)
	dc.Stroke()
}

// drawLabel renders the two-line label above the box on a semi-transparent
// rounded background, clamped to stay on-canvas.
func drawLabel(dc *gg.Context, a Annotation, x, y, s, fontSize, width, height float64) {
	lines := []string{fmt.Sprintf("%s %d%%", titleCase(a.Category), int(a.Confidence*100))}
	if a.Species != "" {
		lines = append(lines, fmt.Sprintf("%s %d%%", titleCase(a.Species), int(a.SpeciesConfidence*100)))
	}

	pad := 3 * s
	lineH := fontSize * 1.3
	var maxW float64
	for _, line := range lines {
		if lw, _ := dc.MeasureString(line); lw > maxW {
			maxW = lw
		}
	}
	boxW := maxW + 2*pad
	boxH := lineH*float64(len(lines)) + 2*pad

	lx := x
	ly := y - boxH - 2*s
	if ly < 0 {
		ly = y + 2*s
	}
	if lx+boxW > width {
		lx = width - boxW
	}
	if lx < 0 {
		lx = 0
	}

	dc.SetRGBA(0, 0, 0, 0.5)
	dc.DrawRoundedRectangle(lx, ly, boxW, boxH, 3*s)
	dc.Fill()

	dc.SetRGB(1, 1, 1)
	for i, line := range lines {
		dc.DrawString(line, lx+pad, ly+pad+lineH*float64(i)+fontSize)
	}
}

// titleCase renders model labels like "roe_deer" as "Roe Deer".
func titleCase(label string) string {
	words := strings.FieldsFunc(label, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// logRenderFailure keeps the shared wording for the render-is-best-effort
// path: the notification still goes out text-only.
func logRenderFailure(imageID string, err error) {
	log.Printf("[Classifier] annotated render for %s failed, continuing without attachment: %v", imageID, err)
}

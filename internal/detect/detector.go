package detect

import (
	"fmt"
	"image"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/metrics"
)

const (
	inputSize = 640

	// minConfidence floors raw detector output; downstream notification
	// gating applies the per-project threshold.
	minConfidence = 0.1
)

// Detector class ids follow the trap-camera detector convention:
// 1 animal, 2 person, 3 vehicle.
var classCategories = map[int]string{
	1: data.CategoryAnimal,
	2: data.CategoryPerson,
	3: data.CategoryVehicle,
}

var ortInit sync.Once

func initRuntime(libPath string) error {
	var err error
	ortInit.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		err = ort.InitializeEnvironment()
	})
	return err
}

// RawDetection is one detector hit in normalized image coordinates.
type RawDetection struct {
	Category   string
	Confidence float64
	Box        data.NormBox
}

// Detector wraps a single ONNX detection session. Safe for serial use from
// one worker loop; the session itself is read-only after load.
type Detector struct {
	session *ort.DynamicAdvancedSession
}

func NewDetector(modelPath, runtimeLibPath string) (*Detector, error) {
	if err := initRuntime(runtimeLibPath); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"images"}, []string{"output"}, nil)
	if err != nil {
		return nil, fmt.Errorf("detector session: %w", err)
	}
	log.Printf("[Detector] loaded model %s", modelPath)
	return &Detector{session: session}, nil
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
}

// Detect runs the model on a decoded image and returns hits sorted by
// descending confidence.
func (d *Detector) Detect(img image.Image) ([]RawDetection, error) {
	tensorData, scale, padX, padY := letterbox(img)

	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), tensorData)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	start := time.Now()
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("detector inference: %w", err)
	}
	metrics.RecordInference("detector", time.Since(start))
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	w := float64(img.Bounds().Dx())
	h := float64(img.Bounds().Dy())
	dets := decodeOutput(out.GetData(), scale, padX, padY, w, h)

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	return dets, nil
}

// letterbox resizes into the square model input with padding, preserving
// aspect ratio, and returns CHW float32 pixels in [0,1] plus the mapping
// back to source coordinates.
func letterbox(img image.Image) (data []float32, scale, padX, padY float64) {
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()

	scale = float64(inputSize) / float64(srcW)
	if s := float64(inputSize) / float64(srcH); s < scale {
		scale = s
	}
	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	padX = float64(inputSize-newW) / 2
	padY = float64(inputSize-newH) / 2

	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	canvas := imaging.New(inputSize, inputSize, image.Black)
	canvas = imaging.Paste(canvas, resized, image.Pt(int(padX), int(padY)))

	data = make([]float32, 3*inputSize*inputSize)
	plane := inputSize * inputSize
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			r, g, b, _ := canvas.At(x, y).RGBA()
			idx := y*inputSize + x
			data[idx] = float32(r>>8) / 255
			data[plane+idx] = float32(g>>8) / 255
			data[2*plane+idx] = float32(b>>8) / 255
		}
	}
	return data, scale, padX, padY
}

// decodeOutput parses [N,6] rows of (x1, y1, x2, y2, confidence, class) in
// letterboxed input pixels and maps them to normalized source coordinates.
func decodeOutput(raw []float32, scale, padX, padY, srcW, srcH float64) []RawDetection {
	var out []RawDetection
	for i := 0; i+6 <= len(raw); i += 6 {
		conf := float64(raw[i+4])
		if conf < minConfidence {
			continue
		}
		category, ok := classCategories[int(raw[i+5])]
		if !ok {
			continue
		}

		x1 := (float64(raw[i]) - padX) / scale
		y1 := (float64(raw[i+1]) - padY) / scale
		x2 := (float64(raw[i+2]) - padX) / scale
		y2 := (float64(raw[i+3]) - padY) / scale

		box := data.NormBox{
			X: clamp01(x1 / srcW),
			Y: clamp01(y1 / srcH),
		}
		box.W = clamp01(x2/srcW) - box.X
		box.H = clamp01(y2/srcH) - box.Y
		if box.W <= 0 || box.H <= 0 {
			continue
		}

		out = append(out, RawDetection{Category: category, Confidence: conf, Box: box})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

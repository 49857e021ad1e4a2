package classify

import (
	"bufio"
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/technosupport/ts-trapnet/internal/metrics"
)

// classifierInputSize is the square input edge of the species model.
const classifierInputSize = 224

// ImageNet normalization applied per channel after scaling to [0,1].
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

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

// Classifier wraps one ONNX species-classification session plus its label
// vocabulary. Read-only after load.
type Classifier struct {
	session *ort.DynamicAdvancedSession
	labels  []string
}

func NewClassifier(modelPath, labelsPath, runtimeLibPath string) (*Classifier, error) {
	if err := initRuntime(runtimeLibPath); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}

	labels, err := loadLabels(labelsPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"}, nil)
	if err != nil {
		return nil, fmt.Errorf("classifier session: %w", err)
	}
	log.Printf("[Classifier] loaded model %s (%d species)", modelPath, len(labels))
	return &Classifier{session: session, labels: labels}, nil
}

func (c *Classifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
}

// Species returns the model's closed vocabulary.
func (c *Classifier) Species() []string {
	return c.labels
}

// Classify runs the model on a crop and returns the full softmax as a
// species-to-probability map.
func (c *Classifier) Classify(crop image.Image) (map[string]float64, error) {
	resized := imaging.Resize(crop, classifierInputSize, classifierInputSize, imaging.CatmullRom)

	tensorData := make([]float32, 3*classifierInputSize*classifierInputSize)
	plane := classifierInputSize * classifierInputSize
	for y := 0; y < classifierInputSize; y++ {
		for x := 0; x < classifierInputSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*classifierInputSize + x
			tensorData[idx] = (float32(r>>8)/255 - channelMean[0]) / channelStd[0]
			tensorData[plane+idx] = (float32(g>>8)/255 - channelMean[1]) / channelStd[1]
			tensorData[2*plane+idx] = (float32(b>>8)/255 - channelMean[2]) / channelStd[2]
		}
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, classifierInputSize, classifierInputSize), tensorData)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	start := time.Now()
	if err := c.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("classifier inference: %w", err)
	}
	metrics.RecordInference("classifier", time.Since(start))
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	logits := out.GetData()
	if len(logits) != len(c.labels) {
		return nil, fmt.Errorf("classifier output size %d does not match %d labels", len(logits), len(c.labels))
	}
	probs := softmax(logits)

	scores := make(map[string]float64, len(c.labels))
	for i, label := range c.labels {
		scores[label] = probs[i]
	}
	return scores, nil
}

func softmax(logits []float32) []float64 {
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}
	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exps[i] = math.Exp(float64(v) - maxLogit)
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// loadLabels reads one species name per line, skipping blanks and comments.
func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("labels file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

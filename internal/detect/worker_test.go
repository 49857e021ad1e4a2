package detect_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/detect"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

type mockImages struct {
	img      *data.Image
	statuses []string
}

func (m *mockImages) GetByID(ctx context.Context, id uuid.UUID) (*data.Image, error) {
	if m.img == nil || m.img.ID != id {
		return nil, data.ErrRecordNotFound
	}
	return m.img, nil
}

func (m *mockImages) SetStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	m.statuses = append(m.statuses, to)
	m.img.Status = to
	return nil
}

type mockDetections struct {
	inserted []*data.Detection
	existing []*data.Detection
}

func (m *mockDetections) InsertBatch(ctx context.Context, imageID uuid.UUID, dets []*data.Detection) error {
	for i, d := range dets {
		d.ID = int64(i + 1)
		d.ImageID = imageID
	}
	m.inserted = append(m.inserted, dets...)
	return nil
}

func (m *mockDetections) ListByImage(ctx context.Context, imageID uuid.UUID) ([]*data.Detection, error) {
	return m.existing, nil
}

type mockStore struct {
	blob []byte
	err  error
}

func (m *mockStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	return m.blob, m.err
}

type mockBus struct {
	published  []any
	deadLetter []string
}

func (m *mockBus) Publish(queueName string, v any) error {
	m.published = append(m.published, v)
	return nil
}

func (m *mockBus) DeadLetter(queueName string, payload []byte, reason string) error {
	m.deadLetter = append(m.deadLetter, reason)
	return nil
}

type fakeDetector struct {
	hits []detect.RawDetection
	err  error
}

func (f *fakeDetector) Detect(img image.Image) ([]detect.RawDetection, error) {
	return f.hits, f.err
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func payload(t *testing.T, img *data.Image) []byte {
	t.Helper()
	raw, err := json.Marshal(queue.ImageIngested{
		ImageUUID:   img.ID.String(),
		StoragePath: img.StoragePath,
		CameraID:    img.CameraID.String(),
	})
	require.NoError(t, err)
	return raw
}

func newWorker(img *data.Image, det *fakeDetector) (*detect.Worker, *mockImages, *mockDetections, *mockBus) {
	images := &mockImages{img: img}
	dets := &mockDetections{}
	bus := &mockBus{}
	w := &detect.Worker{
		Images:     images,
		Detections: dets,
		Store:      &mockStore{blob: nil},
		Bus:        bus,
		Detector:   det,
	}
	return w, images, dets, bus
}

func TestHandleDetections(t *testing.T) {
	img := &data.Image{ID: uuid.New(), CameraID: uuid.New(), StoragePath: "cam/2025/12/x.jpg", Status: data.ImageStatusPending}
	det := &fakeDetector{hits: []detect.RawDetection{
		{Category: data.CategoryAnimal, Confidence: 0.92, Box: data.NormBox{X: 0.25, Y: 0.25, W: 0.5, H: 0.25}},
		{Category: data.CategoryPerson, Confidence: 0.4, Box: data.NormBox{X: 0, Y: 0, W: 0.1, H: 0.2}},
	}}
	w, images, dets, bus := newWorker(img, det)
	w.Store = &mockStore{blob: testJPEG(t, 800, 600)}

	require.NoError(t, w.Handle(context.Background(), payload(t, img)))

	require.Len(t, dets.inserted, 2)
	animal := dets.inserted[0]
	assert.Equal(t, data.CategoryAnimal, animal.Category)
	// Pixel box derived from the 800x600 decode.
	assert.Equal(t, data.PixelBox{X: 200, Y: 150, W: 400, H: 150}, animal.Pixel)

	assert.Equal(t, []string{data.ImageStatusProcessing, data.ImageStatusDetected}, images.statuses)

	require.Len(t, bus.published, 1)
	msg := bus.published[0].(queue.DetectionComplete)
	assert.Equal(t, img.ID.String(), msg.ImageUUID)
	assert.Equal(t, 2, msg.NumDetections)
	assert.Equal(t, []int64{1, 2}, msg.DetectionIDs)
}

func TestHandleEmptyImage(t *testing.T) {
	img := &data.Image{ID: uuid.New(), Status: data.ImageStatusPending}
	w, _, dets, bus := newWorker(img, &fakeDetector{})
	w.Store = &mockStore{blob: testJPEG(t, 640, 480)}

	require.NoError(t, w.Handle(context.Background(), payload(t, img)))

	assert.Empty(t, dets.inserted)
	require.Len(t, bus.published, 1)
	assert.Equal(t, 0, bus.published[0].(queue.DetectionComplete).NumDetections)
}

func TestHandleInferenceFailure(t *testing.T) {
	img := &data.Image{ID: uuid.New(), Status: data.ImageStatusPending}
	w, images, _, bus := newWorker(img, &fakeDetector{err: errors.New("session crashed")})
	w.Store = &mockStore{blob: testJPEG(t, 640, 480)}

	// Inference failure acks the message: the image is failed, not retried.
	require.NoError(t, w.Handle(context.Background(), payload(t, img)))

	assert.Contains(t, images.statuses, data.ImageStatusFailed)
	require.Len(t, bus.deadLetter, 1)
	assert.Contains(t, bus.deadLetter[0], "inference")
	assert.Empty(t, bus.published)
}

func TestHandleBlobFetchFailureRetries(t *testing.T) {
	img := &data.Image{ID: uuid.New(), Status: data.ImageStatusPending}
	w, images, _, bus := newWorker(img, &fakeDetector{})
	w.Store = &mockStore{err: errors.New("connection refused")}

	// Infrastructure failure nacks for redelivery instead of failing the image.
	err := w.Handle(context.Background(), payload(t, img))
	require.Error(t, err)
	assert.NotContains(t, images.statuses, data.ImageStatusFailed)
	assert.Empty(t, bus.deadLetter)
}

func TestHandleDetectedRepublishesOnly(t *testing.T) {
	img := &data.Image{ID: uuid.New(), Status: data.ImageStatusDetected}
	w, _, dets, bus := newWorker(img, &fakeDetector{})
	dets.existing = []*data.Detection{{ID: 7}, {ID: 9}}

	require.NoError(t, w.Handle(context.Background(), payload(t, img)))

	assert.Empty(t, dets.inserted, "no re-inference on redelivery")
	require.Len(t, bus.published, 1)
	assert.Equal(t, []int64{7, 9}, bus.published[0].(queue.DetectionComplete).DetectionIDs)
}

func TestHandleMalformedPayload(t *testing.T) {
	img := &data.Image{ID: uuid.New(), Status: data.ImageStatusPending}
	w, _, _, bus := newWorker(img, &fakeDetector{})

	require.NoError(t, w.Handle(context.Background(), []byte("{not json")))
	require.Len(t, bus.deadLetter, 1)
}

package classify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/classify"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

type mockImages struct {
	img       *data.Image
	statuses  []string
	annotated []string
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

func (m *mockImages) SetAnnotatedPath(ctx context.Context, id uuid.UUID, path string) error {
	m.annotated = append(m.annotated, path)
	return nil
}

type mockDetections struct {
	dets []*data.Detection
}

func (m *mockDetections) ListByImage(ctx context.Context, imageID uuid.UUID) ([]*data.Detection, error) {
	return m.dets, nil
}

type mockClassifications struct {
	inserted []*data.Classification
	existing []*data.Classification
	deleted  int
}

func (m *mockClassifications) Insert(ctx context.Context, c *data.Classification) error {
	c.ID = int64(len(m.inserted) + 1)
	m.inserted = append(m.inserted, c)
	return nil
}

func (m *mockClassifications) ListByImage(ctx context.Context, imageID uuid.UUID) ([]*data.Classification, error) {
	return m.existing, nil
}

func (m *mockClassifications) DeleteByImage(ctx context.Context, imageID uuid.UUID) error {
	m.deleted++
	return nil
}

type mockProjects struct {
	project *data.Project
}

func (m *mockProjects) GetByID(ctx context.Context, id uuid.UUID) (*data.Project, error) {
	if m.project == nil {
		return nil, data.ErrRecordNotFound
	}
	return m.project, nil
}

func (m *mockProjects) GetForCamera(ctx context.Context, cameraID uuid.UUID) (*data.Project, error) {
	if m.project == nil {
		return nil, data.ErrRecordNotFound
	}
	return m.project, nil
}

type mockCameras struct {
	cam *data.Camera
}

func (m *mockCameras) GetByID(ctx context.Context, id uuid.UUID) (*data.Camera, error) {
	return m.cam, nil
}

type mockStore struct {
	blob []byte
	puts map[string][]byte
}

func (m *mockStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	return m.blob, nil
}

func (m *mockStore) Put(ctx context.Context, bucket, objectPath string, blob []byte, contentType string) error {
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[bucket+"/"+objectPath] = blob
	return nil
}

type mockBus struct {
	published  map[string][]any
	deadLetter []string
}

func (m *mockBus) Publish(queueName string, v any) error {
	if m.published == nil {
		m.published = make(map[string][]any)
	}
	m.published[queueName] = append(m.published[queueName], v)
	return nil
}

func (m *mockBus) DeadLetter(queueName string, payload []byte, reason string) error {
	m.deadLetter = append(m.deadLetter, reason)
	return nil
}

type fakeClassifier struct {
	scores map[string]float64
}

func (f *fakeClassifier) Classify(crop image.Image) (map[string]float64, error) {
	return f.scores, nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1000, 750)), nil))
	return buf.Bytes()
}

type fixture struct {
	worker          *classify.Worker
	images          *mockImages
	detections      *mockDetections
	classifications *mockClassifications
	store           *mockStore
	bus             *mockBus
}

func newFixture(t *testing.T, img *data.Image, project *data.Project, dets []*data.Detection, scores map[string]float64) *fixture {
	t.Helper()
	lat, lon := 52.1, 5.1
	f := &fixture{
		images:          &mockImages{img: img},
		detections:      &mockDetections{dets: dets},
		classifications: &mockClassifications{},
		store:           &mockStore{blob: testJPEG(t)},
		bus:             &mockBus{},
	}
	f.worker = classify.NewWorker(
		f.images, f.detections, f.classifications,
		&mockProjects{project: project},
		&mockCameras{cam: &data.Camera{ID: img.CameraID, Name: "WUH09", Latitude: &lat, Longitude: &lon}},
		f.store, f.bus,
		&fakeClassifier{scores: scores},
	)
	return f
}

func detectionPayload(t *testing.T, img *data.Image, ids []int64) []byte {
	t.Helper()
	raw, err := json.Marshal(queue.DetectionComplete{
		ImageUUID: img.ID.String(), NumDetections: len(ids), DetectionIDs: ids,
	})
	require.NoError(t, err)
	return raw
}

func TestHandleClassifiesAnimalsOnly(t *testing.T) {
	img := &data.Image{ID: uuid.New(), CameraID: uuid.New(), StoragePath: "p", Status: data.ImageStatusDetected, CapturedAt: time.Now().UTC()}
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	dets := []*data.Detection{
		{ID: 1, Category: data.CategoryAnimal, Confidence: 0.9, Norm: data.NormBox{X: 0.2, Y: 0.2, W: 0.3, H: 0.3}},
		{ID: 2, Category: data.CategoryPerson, Confidence: 0.8, Norm: data.NormBox{X: 0.6, Y: 0.1, W: 0.1, H: 0.3}},
	}
	f := newFixture(t, img, project, dets, map[string]float64{"fox": 0.8, "badger": 0.2})

	require.NoError(t, f.worker.Handle(context.Background(), detectionPayload(t, img, []int64{1, 2})))

	// Only the animal detection receives a classification row.
	require.Len(t, f.classifications.inserted, 1)
	c := f.classifications.inserted[0]
	assert.Equal(t, int64(1), c.DetectionID)
	assert.Equal(t, "fox", c.Species)
	assert.NotNil(t, c.RawScores, "full softmax must be persisted for reprocess")

	assert.Equal(t, []string{data.ImageStatusClassifying, data.ImageStatusClassified}, f.images.statuses)

	// Annotated blob under annotated/ plus one crop.
	annotated := storage.BucketThumbnails + "/" + storage.AnnotatedPath(img.ID)
	assert.Contains(t, f.store.puts, annotated)
	assert.Contains(t, f.store.puts, storage.BucketCrops+"/"+img.ID.String()+"/1.jpg")

	require.Len(t, f.bus.published[queue.QueueClassificationComplete], 1)
	done := f.bus.published[queue.QueueClassificationComplete][0].(queue.ClassificationComplete)
	assert.Equal(t, 1, done.NumClassifications)
}

func TestHandleNotificationFanOutPerSpecies(t *testing.T) {
	img := &data.Image{
		ID: uuid.New(), CameraID: uuid.New(), StoragePath: "p",
		Status:   data.ImageStatusDetected,
		Metadata: map[string]any{"gps": map[string]any{"lat": 52.0987, "lon": 5.1255}},
	}
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	dets := []*data.Detection{
		{ID: 1, Category: data.CategoryAnimal, Confidence: 0.9, Norm: data.NormBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}},
		{ID: 2, Category: data.CategoryAnimal, Confidence: 0.7, Norm: data.NormBox{X: 0.5, Y: 0.5, W: 0.2, H: 0.2}},
	}
	f := newFixture(t, img, project, dets, map[string]float64{"fox": 0.9, "badger": 0.1})

	require.NoError(t, f.worker.Handle(context.Background(), detectionPayload(t, img, []int64{1, 2})))

	// Both detections classify as fox: one event, best confidence.
	events := f.bus.published[queue.QueueNotificationEvents]
	require.Len(t, events, 1)
	ev := events[0].(queue.NotificationEvent)
	assert.Equal(t, data.EventSpeciesDetection, ev.EventType)
	assert.Equal(t, "fox", ev.Species)
	require.NotNil(t, ev.Confidence)
	assert.Equal(t, 0.9, *ev.Confidence)
	require.NotNil(t, ev.DetectionConfidence)
	assert.Equal(t, 0.9, *ev.DetectionConfidence)
	assert.Equal(t, 2, ev.DetectionCount)

	// Image GPS wins over the camera's configured location.
	require.NotNil(t, ev.CameraLocation)
	assert.Equal(t, 52.0987, ev.CameraLocation.Lat)
	require.NotNil(t, ev.AnnotatedMinioPath)
}

func TestHandleNoDetectionsShortCircuits(t *testing.T) {
	img := &data.Image{ID: uuid.New(), CameraID: uuid.New(), StoragePath: "p", Status: data.ImageStatusDetected}
	f := newFixture(t, img, nil, nil, nil)

	require.NoError(t, f.worker.Handle(context.Background(), detectionPayload(t, img, nil)))

	assert.Empty(t, f.classifications.inserted)
	assert.Equal(t, data.ImageStatusClassified, img.Status)
	require.Len(t, f.bus.published[queue.QueueClassificationComplete], 1)
	assert.Empty(t, f.bus.published[queue.QueueNotificationEvents])
}

func TestHandleReprocessRewritesFromRawScores(t *testing.T) {
	img := &data.Image{ID: uuid.New(), CameraID: uuid.New(), StoragePath: "p", Status: data.ImageStatusClassified}
	project := &data.Project{ID: uuid.New(), IncludedSpecies: []string{"badger"}}
	dets := []*data.Detection{
		{ID: 1, Category: data.CategoryAnimal, Confidence: 0.9, Norm: data.NormBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}},
	}
	f := newFixture(t, img, project, dets, nil)
	f.classifications.existing = []*data.Classification{
		{ID: 10, DetectionID: 1, Species: "fox", Confidence: 0.8,
			RawScores: map[string]float64{"fox": 0.8, "badger": 0.2}},
	}

	payload, err := json.Marshal(queue.ClassificationReprocess{
		ImageUUID: img.ID.String(), ProjectID: project.ID.String(), ExcludedSpecies: []string{"fox"},
	})
	require.NoError(t, err)

	require.NoError(t, f.worker.HandleReprocess(context.Background(), payload))

	assert.Equal(t, 1, f.classifications.deleted)
	require.Len(t, f.classifications.inserted, 1)
	c := f.classifications.inserted[0]
	assert.Equal(t, "badger", c.Species)
	assert.InDelta(t, 1.0, c.Confidence, 1e-9)
}

func TestHandleUnassignedCameraSkipsNotifications(t *testing.T) {
	img := &data.Image{ID: uuid.New(), CameraID: uuid.New(), StoragePath: "p", Status: data.ImageStatusDetected}
	dets := []*data.Detection{
		{ID: 1, Category: data.CategoryAnimal, Confidence: 0.9, Norm: data.NormBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}},
	}
	f := newFixture(t, img, nil, dets, map[string]float64{"fox": 1.0})

	require.NoError(t, f.worker.Handle(context.Background(), detectionPayload(t, img, []int64{1})))

	require.Len(t, f.classifications.inserted, 1)
	assert.Empty(t, f.bus.published[queue.QueueNotificationEvents])
	assert.Equal(t, data.ImageStatusClassified, img.Status)
}

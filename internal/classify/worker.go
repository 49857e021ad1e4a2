package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

// projectCacheTTL bounds how stale a cached per-camera project config can be.
const projectCacheTTL = 5 * time.Minute

type ImageRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Image, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
	SetAnnotatedPath(ctx context.Context, id uuid.UUID, path string) error
}

type DetectionRepo interface {
	ListByImage(ctx context.Context, imageID uuid.UUID) ([]*data.Detection, error)
}

type ClassificationRepo interface {
	Insert(ctx context.Context, c *data.Classification) error
	ListByImage(ctx context.Context, imageID uuid.UUID) ([]*data.Classification, error)
	DeleteByImage(ctx context.Context, imageID uuid.UUID) error
}

type ProjectRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Project, error)
	GetForCamera(ctx context.Context, cameraID uuid.UUID) (*data.Project, error)
}

type CameraRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Camera, error)
}

type BlobStore interface {
	Get(ctx context.Context, bucket, objectPath string) ([]byte, error)
	Put(ctx context.Context, bucket, objectPath string, blob []byte, contentType string) error
}

type Bus interface {
	Publish(queueName string, v any) error
	DeadLetter(queueName string, payload []byte, reason string) error
}

type Inferencer interface {
	Classify(crop image.Image) (map[string]float64, error)
}

// Worker consumes detection-complete: crops animal detections, classifies
// them under the project species filter, renders the annotated image and fans
// out per-species notification events.
type Worker struct {
	Images          ImageRepo
	Detections      DetectionRepo
	Classifications ClassificationRepo
	Projects        ProjectRepo
	Cameras         CameraRepo
	Store           BlobStore
	Bus             Bus
	Classifier      Inferencer

	projectCache *expirable.LRU[uuid.UUID, *data.Project]
}

func NewWorker(images ImageRepo, dets DetectionRepo, cls ClassificationRepo, projects ProjectRepo, cameras CameraRepo, store BlobStore, bus Bus, clf Inferencer) *Worker {
	return &Worker{
		Images:          images,
		Detections:      dets,
		Classifications: cls,
		Projects:        projects,
		Cameras:         cameras,
		Store:           store,
		Bus:             bus,
		Classifier:      clf,
		projectCache:    expirable.NewLRU[uuid.UUID, *data.Project](256, nil, projectCacheTTL),
	}
}

// projectForCamera caches per-camera project config; an unassigned camera
// yields nil without error.
func (w *Worker) projectForCamera(ctx context.Context, cameraID uuid.UUID) (*data.Project, error) {
	if p, ok := w.projectCache.Get(cameraID); ok {
		return p, nil
	}
	p, err := w.Projects.GetForCamera(ctx, cameraID)
	if errors.Is(err, data.ErrRecordNotFound) {
		w.projectCache.Add(cameraID, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.projectCache.Add(cameraID, p)
	return p, nil
}

func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var msg queue.DetectionComplete
	if err := json.Unmarshal(payload, &msg); err != nil {
		return w.fail(ctx, uuid.Nil, payload, fmt.Sprintf("malformed message: %v", err))
	}
	imageID, err := uuid.Parse(msg.ImageUUID)
	if err != nil {
		return w.fail(ctx, uuid.Nil, payload, fmt.Sprintf("bad image uuid %q", msg.ImageUUID))
	}

	img, err := w.Images.GetByID(ctx, imageID)
	if errors.Is(err, data.ErrRecordNotFound) {
		return w.fail(ctx, uuid.Nil, payload, "image row missing")
	}
	if err != nil {
		return err
	}

	switch img.Status {
	case data.ImageStatusDetected, data.ImageStatusClassifying:
	case data.ImageStatusClassified:
		// Retry after a lost completion message.
		return w.publishComplete(ctx, img.ID)
	default:
		log.Printf("[Classifier] image %s at %s, skipping", img.ID, img.Status)
		return nil
	}

	if err := w.Images.SetStatus(ctx, img.ID, "", data.ImageStatusClassifying); err != nil {
		return err
	}

	dets, err := w.Detections.ListByImage(ctx, img.ID)
	if err != nil {
		return err
	}
	if len(dets) == 0 {
		if err := w.Images.SetStatus(ctx, img.ID, data.ImageStatusClassifying, data.ImageStatusClassified); err != nil {
			return err
		}
		return w.Bus.Publish(queue.QueueClassificationComplete, queue.ClassificationComplete{
			ImageUUID: img.ID.String(), ClassificationIDs: []int64{},
		})
	}

	project, err := w.projectForCamera(ctx, img.CameraID)
	if err != nil {
		return err
	}
	var included []string
	threshold := 0.5
	blurPrivacy := false
	if project != nil {
		included = project.IncludedSpecies
		threshold = project.DetectionThreshold
		blurPrivacy = project.BlurPeopleVehicles
	}

	raw, err := w.Store.Get(ctx, storage.BucketRawImages, img.StoragePath)
	if err != nil {
		return err
	}
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return w.fail(ctx, img.ID, payload, fmt.Sprintf("jpeg decode: %v", err))
	}

	classified := make(map[int64]*data.Classification, len(dets))
	var classificationIDs []int64
	for _, det := range dets {
		if det.Category != data.CategoryAnimal {
			continue
		}

		crop := SquareCrop(decoded, det.Norm)
		scores, err := w.Classifier.Classify(crop)
		if err != nil {
			return w.fail(ctx, img.ID, payload, fmt.Sprintf("inference on detection %d: %v", det.ID, err))
		}

		species, confidence := FilterTop1(scores, included)
		c := &data.Classification{
			DetectionID: det.ID,
			Species:     species,
			Confidence:  confidence,
			RawScores:   scores,
		}
		if err := w.Classifications.Insert(ctx, c); err != nil {
			return err
		}
		classified[det.ID] = c
		classificationIDs = append(classificationIDs, c.ID)

		w.uploadCrop(ctx, img.ID, det.ID, crop)
	}

	var annotatedPath *string
	if len(classified) > 0 {
		annotatedPath = w.renderAndUpload(ctx, img, decoded, dets, classified, threshold, blurPrivacy)
	}

	if project != nil {
		if err := w.fanOutNotifications(ctx, img, project, dets, classified, annotatedPath); err != nil {
			return err
		}
	}

	if err := w.Images.SetStatus(ctx, img.ID, data.ImageStatusClassifying, data.ImageStatusClassified); err != nil {
		return err
	}
	if classificationIDs == nil {
		classificationIDs = []int64{}
	}
	log.Printf("[Classifier] image %s: %d classifications", img.ID, len(classificationIDs))
	return w.Bus.Publish(queue.QueueClassificationComplete, queue.ClassificationComplete{
		ImageUUID:          img.ID.String(),
		NumClassifications: len(classificationIDs),
		ClassificationIDs:  classificationIDs,
	})
}

func (w *Worker) publishComplete(ctx context.Context, imageID uuid.UUID) error {
	existing, err := w.Classifications.ListByImage(ctx, imageID)
	if err != nil {
		return err
	}
	ids := make([]int64, len(existing))
	for i, c := range existing {
		ids[i] = c.ID
	}
	return w.Bus.Publish(queue.QueueClassificationComplete, queue.ClassificationComplete{
		ImageUUID:          imageID.String(),
		NumClassifications: len(ids),
		ClassificationIDs:  ids,
	})
}

// uploadCrop stores the square animal crop for curation UIs. Best effort.
func (w *Worker) uploadCrop(ctx context.Context, imageID uuid.UUID, detectionID int64, crop image.Image) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		log.Printf("[Classifier] crop encode for %s/%d: %v", imageID, detectionID, err)
		return
	}
	path := fmt.Sprintf("%s/%d.jpg", imageID, detectionID)
	if err := w.Store.Put(ctx, storage.BucketCrops, path, buf.Bytes(), "image/jpeg"); err != nil {
		log.Printf("[Classifier] crop upload for %s/%d: %v", imageID, detectionID, err)
	}
}

// renderAndUpload builds the annotated JPEG. Rendering is best effort: a
// failure logs and the pipeline continues text-only.
func (w *Worker) renderAndUpload(ctx context.Context, img *data.Image, decoded image.Image, dets []*data.Detection, classified map[int64]*data.Classification, threshold float64, blurPrivacy bool) *string {
	var annotations []Annotation
	var blurs []BlurRegion
	for _, det := range dets {
		a := Annotation{Box: det.Norm, Category: det.Category, Confidence: det.Confidence}
		if c, ok := classified[det.ID]; ok {
			a.Species = c.Species
			a.SpeciesConfidence = c.Confidence
		}
		annotations = append(annotations, a)

		if blurPrivacy && det.Category != data.CategoryAnimal && det.Confidence >= threshold {
			blurs = append(blurs, BlurRegion{Box: det.Norm})
		}
	}

	blob, err := RenderAnnotated(decoded, annotations, blurs)
	if err != nil {
		logRenderFailure(img.ID.String(), err)
		return nil
	}

	path := storage.AnnotatedPath(img.ID)
	if err := w.Store.Put(ctx, storage.BucketThumbnails, path, blob, "image/jpeg"); err != nil {
		logRenderFailure(img.ID.String(), err)
		return nil
	}
	if err := w.Images.SetAnnotatedPath(ctx, img.ID, path); err != nil {
		log.Printf("[Classifier] annotated path update for %s: %v", img.ID, err)
	}
	return &path
}

// fanOutNotifications publishes one species_detection event per unique
// species, carrying the best classification and its originating detection
// confidence.
func (w *Worker) fanOutNotifications(ctx context.Context, img *data.Image, project *data.Project, dets []*data.Detection, classified map[int64]*data.Classification, annotatedPath *string) error {
	if len(classified) == 0 {
		return nil
	}

	cam, err := w.Cameras.GetByID(ctx, img.CameraID)
	if err != nil {
		return err
	}

	detByID := make(map[int64]*data.Detection, len(dets))
	for _, d := range dets {
		detByID[d.ID] = d
	}

	type best struct {
		cls *data.Classification
		det *data.Detection
	}
	bySpecies := make(map[string]best)
	for detID, c := range classified {
		cur, ok := bySpecies[c.Species]
		if !ok || c.Confidence > cur.cls.Confidence {
			bySpecies[c.Species] = best{cls: c, det: detByID[detID]}
		}
	}

	location := eventLocation(img, cam)
	for species, b := range bySpecies {
		conf := b.cls.Confidence
		detConf := b.det.Confidence
		event := queue.NotificationEvent{
			EventType:           data.EventSpeciesDetection,
			ProjectID:           project.ID.String(),
			ImageUUID:           img.ID.String(),
			CameraID:            cam.ID.String(),
			CameraName:          cam.Name,
			CameraLocation:      location,
			Species:             species,
			Confidence:          &conf,
			DetectionConfidence: &detConf,
			DetectionCount:      len(dets),
			AnnotatedMinioPath:  annotatedPath,
			Timestamp:           img.CapturedAt,
		}
		if err := w.Bus.Publish(queue.QueueNotificationEvents, event); err != nil {
			return err
		}
	}
	return nil
}

// eventLocation prefers the image's own GPS from metadata over the camera's
// configured location.
func eventLocation(img *data.Image, cam *data.Camera) *queue.LatLon {
	if gps, ok := img.Metadata["gps"].(map[string]any); ok {
		lat, latOK := gps["lat"].(float64)
		lon, lonOK := gps["lon"].(float64)
		if latOK && lonOK {
			return &queue.LatLon{Lat: lat, Lon: lon}
		}
	}
	if cam.Latitude != nil && cam.Longitude != nil {
		return &queue.LatLon{Lat: *cam.Latitude, Lon: *cam.Longitude}
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, imageID uuid.UUID, payload []byte, reason string) error {
	log.Printf("[Classifier] image %s failed: %s", imageID, reason)
	if imageID != uuid.Nil {
		if err := w.Images.SetStatus(ctx, imageID, "", data.ImageStatusFailed); err != nil {
			log.Printf("[Classifier] status flip to failed for %s: %v", imageID, err)
		}
	}
	return w.Bus.DeadLetter(queue.QueueDetectionComplete, payload, reason)
}

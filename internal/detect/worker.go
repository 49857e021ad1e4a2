package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"math"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

type ImageRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Image, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type DetectionRepo interface {
	InsertBatch(ctx context.Context, imageID uuid.UUID, dets []*data.Detection) error
	ListByImage(ctx context.Context, imageID uuid.UUID) ([]*data.Detection, error)
}

type BlobStore interface {
	Get(ctx context.Context, bucket, objectPath string) ([]byte, error)
}

type Bus interface {
	Publish(queueName string, v any) error
	DeadLetter(queueName string, payload []byte, reason string) error
}

type Inferencer interface {
	Detect(img image.Image) ([]RawDetection, error)
}

// Worker consumes image-ingested, runs the detector and emits
// detection-complete.
type Worker struct {
	Images     ImageRepo
	Detections DetectionRepo
	Store      BlobStore
	Bus        Bus
	Detector   Inferencer
}

// Handle processes one image-ingested payload. Inference failures mark the
// image failed and dead-letter the message; infrastructure failures return an
// error for redelivery.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var msg queue.ImageIngested
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
	case data.ImageStatusPending, data.ImageStatusProcessing:
		// Normal delivery or a retry that died mid-inference.
	case data.ImageStatusDetected:
		// Detections were written but the completion message may have been
		// lost. Republish without re-running inference.
		return w.publishComplete(ctx, img.ID)
	default:
		log.Printf("[Detector] image %s already at %s, skipping", img.ID, img.Status)
		return nil
	}

	if err := w.Images.SetStatus(ctx, img.ID, "", data.ImageStatusProcessing); err != nil {
		return err
	}

	raw, err := w.Store.Get(ctx, storage.BucketRawImages, img.StoragePath)
	if err != nil {
		return err
	}

	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return w.fail(ctx, img.ID, payload, fmt.Sprintf("jpeg decode: %v", err))
	}

	hits, err := w.Detector.Detect(decoded)
	if err != nil {
		return w.fail(ctx, img.ID, payload, fmt.Sprintf("inference: %v", err))
	}

	width := decoded.Bounds().Dx()
	height := decoded.Bounds().Dy()
	dets := make([]*data.Detection, 0, len(hits))
	for _, h := range hits {
		dets = append(dets, &data.Detection{
			Category:   h.Category,
			Norm:       h.Box,
			Pixel:      toPixelBox(h.Box, width, height),
			Confidence: h.Confidence,
		})
	}

	if err := w.Detections.InsertBatch(ctx, img.ID, dets); err != nil {
		return err
	}
	if err := w.Images.SetStatus(ctx, img.ID, data.ImageStatusProcessing, data.ImageStatusDetected); err != nil {
		return err
	}

	ids := make([]int64, len(dets))
	for i, d := range dets {
		ids[i] = d.ID
	}
	log.Printf("[Detector] image %s: %d detections", img.ID, len(ids))
	return w.Bus.Publish(queue.QueueDetectionComplete, queue.DetectionComplete{
		ImageUUID:     img.ID.String(),
		NumDetections: len(ids),
		DetectionIDs:  ids,
	})
}

func (w *Worker) publishComplete(ctx context.Context, imageID uuid.UUID) error {
	dets, err := w.Detections.ListByImage(ctx, imageID)
	if err != nil {
		return err
	}
	ids := make([]int64, len(dets))
	for i, d := range dets {
		ids[i] = d.ID
	}
	return w.Bus.Publish(queue.QueueDetectionComplete, queue.DetectionComplete{
		ImageUUID:     imageID.String(),
		NumDetections: len(ids),
		DetectionIDs:  ids,
	})
}

// fail marks the image failed and dead-letters the payload. Returns nil so
// the bus acks: failed images are not retried automatically.
func (w *Worker) fail(ctx context.Context, imageID uuid.UUID, payload []byte, reason string) error {
	log.Printf("[Detector] image %s failed: %s", imageID, reason)
	if imageID != uuid.Nil {
		if err := w.Images.SetStatus(ctx, imageID, "", data.ImageStatusFailed); err != nil {
			log.Printf("[Detector] status flip to failed for %s: %v", imageID, err)
		}
	}
	if err := w.Bus.DeadLetter(queue.QueueImageIngested, payload, reason); err != nil {
		return err
	}
	return nil
}

func toPixelBox(n data.NormBox, width, height int) data.PixelBox {
	return data.PixelBox{
		X: int(math.Round(n.X * float64(width))),
		Y: int(math.Round(n.Y * float64(height))),
		W: int(math.Round(n.W * float64(width))),
		H: int(math.Round(n.H * float64(height))),
	}
}

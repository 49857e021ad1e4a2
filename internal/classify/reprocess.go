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

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

// HandleReprocess consumes classification-reprocess after a project species
// list change: the stored full softmax is re-filtered against the current
// list and the top-1 rows rewritten. Inference is only re-run for rows that
// predate raw-score persistence.
func (w *Worker) HandleReprocess(ctx context.Context, payload []byte) error {
	var msg queue.ClassificationReprocess
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Classifier] malformed reprocess message: %v", err)
		return w.Bus.DeadLetter(queue.QueueClassificationReprocess, payload, fmt.Sprintf("malformed: %v", err))
	}
	imageID, err := uuid.Parse(msg.ImageUUID)
	if err != nil {
		return w.Bus.DeadLetter(queue.QueueClassificationReprocess, payload, fmt.Sprintf("bad image uuid %q", msg.ImageUUID))
	}
	projectID, err := uuid.Parse(msg.ProjectID)
	if err != nil {
		return w.Bus.DeadLetter(queue.QueueClassificationReprocess, payload, fmt.Sprintf("bad project uuid %q", msg.ProjectID))
	}

	img, err := w.Images.GetByID(ctx, imageID)
	if errors.Is(err, data.ErrRecordNotFound) {
		// Image deleted since the fan-out. Nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	project, err := w.Projects.GetByID(ctx, projectID)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	dets, err := w.Detections.ListByImage(ctx, img.ID)
	if err != nil {
		return err
	}
	existing, err := w.Classifications.ListByImage(ctx, img.ID)
	if err != nil {
		return err
	}
	scoresByDetection := make(map[int64]map[string]float64, len(existing))
	for _, c := range existing {
		if c.RawScores != nil {
			scoresByDetection[c.DetectionID] = c.RawScores
		}
	}

	// Lazily decoded only if some detection lacks stored raw scores.
	var decoded image.Image

	var rewritten []*data.Classification
	for _, det := range dets {
		if det.Category != data.CategoryAnimal {
			continue
		}

		scores := scoresByDetection[det.ID]
		if scores == nil {
			if decoded == nil {
				raw, err := w.Store.Get(ctx, storage.BucketRawImages, img.StoragePath)
				if err != nil {
					return err
				}
				decoded, err = jpeg.Decode(bytes.NewReader(raw))
				if err != nil {
					return w.Bus.DeadLetter(queue.QueueClassificationReprocess, payload, fmt.Sprintf("jpeg decode: %v", err))
				}
			}
			scores, err = w.Classifier.Classify(SquareCrop(decoded, det.Norm))
			if err != nil {
				return w.Bus.DeadLetter(queue.QueueClassificationReprocess, payload, fmt.Sprintf("inference on detection %d: %v", det.ID, err))
			}
		}

		species, confidence := FilterTop1(scores, project.IncludedSpecies)
		rewritten = append(rewritten, &data.Classification{
			DetectionID: det.ID,
			Species:     species,
			Confidence:  confidence,
			RawScores:   scores,
		})
	}

	if err := w.Classifications.DeleteByImage(ctx, img.ID); err != nil {
		return err
	}
	for _, c := range rewritten {
		if err := w.Classifications.Insert(ctx, c); err != nil {
			return err
		}
	}

	log.Printf("[Classifier] reprocessed image %s: %d rows rewritten", img.ID, len(rewritten))
	return nil
}

package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Classification struct {
	ID          int64              `json:"id"`
	DetectionID int64              `json:"detection_id"`
	Species     string             `json:"species"`
	Confidence  float64            `json:"confidence"`
	RawScores   map[string]float64 `json:"raw_scores,omitempty"` // full softmax, pre-filter
	CreatedAt   time.Time          `json:"created_at"`
}

type ClassificationModel struct {
	DB DBTX
}

func (m ClassificationModel) Insert(ctx context.Context, c *Classification) error {
	var rawJSON []byte
	if c.RawScores != nil {
		var err error
		rawJSON, err = json.Marshal(c.RawScores)
		if err != nil {
			return err
		}
	}
	query := `
		INSERT INTO classifications (detection_id, species, confidence, raw_scores)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return m.DB.QueryRowContext(ctx, query, c.DetectionID, c.Species, c.Confidence, rawJSON).
		Scan(&c.ID, &c.CreatedAt)
}

func (m ClassificationModel) ListByDetection(ctx context.Context, detectionID int64) ([]*Classification, error) {
	return m.list(ctx, `
		SELECT id, detection_id, species, confidence, raw_scores, created_at
		FROM classifications
		WHERE detection_id = $1
		ORDER BY confidence DESC, id ASC`, detectionID)
}

// ListByImage joins through detections. Used by notification fan-out and the
// annotation renderer.
func (m ClassificationModel) ListByImage(ctx context.Context, imageID uuid.UUID) ([]*Classification, error) {
	return m.list(ctx, `
		SELECT c.id, c.detection_id, c.species, c.confidence, c.raw_scores, c.created_at
		FROM classifications c
		JOIN detections d ON d.id = c.detection_id
		WHERE d.image_id = $1
		ORDER BY c.confidence DESC, c.id ASC`, imageID)
}

// DeleteByImage clears classification rows before a reprocess rewrite.
func (m ClassificationModel) DeleteByImage(ctx context.Context, imageID uuid.UUID) error {
	_, err := m.DB.ExecContext(ctx, `
		DELETE FROM classifications
		WHERE detection_id IN (SELECT id FROM detections WHERE image_id = $1)`, imageID)
	return err
}

func (m ClassificationModel) list(ctx context.Context, query string, args ...any) ([]*Classification, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Classification
	for rows.Next() {
		var c Classification
		var rawJSON []byte
		if err := rows.Scan(&c.ID, &c.DetectionID, &c.Species, &c.Confidence, &rawJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawJSON) > 0 {
			_ = json.Unmarshal(rawJSON, &c.RawScores)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

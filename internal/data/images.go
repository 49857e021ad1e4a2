package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Image pipeline states. The queue bus owns forward progress: ingestd writes
// pending, detectd advances through processing, classifyd through classifying
// to classified. failed is terminal until an operator resets it.
const (
	ImageStatusPending     = "pending"
	ImageStatusProcessing  = "processing"
	ImageStatusDetected    = "detected"
	ImageStatusClassifying = "classifying"
	ImageStatusClassified  = "classified"
	ImageStatusFailed      = "failed"
)

var ErrDuplicateImage = errors.New("duplicate image")

type Image struct {
	ID            uuid.UUID      `json:"id"`
	CameraID      uuid.UUID      `json:"camera_id"`
	Filename      string         `json:"filename"`
	CapturedAt    time.Time      `json:"captured_at"`
	IngestedAt    time.Time      `json:"ingested_at"`
	StoragePath   string         `json:"storage_path"`
	ThumbnailPath *string        `json:"thumbnail_path,omitempty"`
	AnnotatedPath *string        `json:"annotated_path,omitempty"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	IsVerified    bool           `json:"is_verified"`
}

type ImageModel struct {
	DB DBTX
}

// Insert writes the image row. A unique index on (camera_id, filename,
// captured_at) backs the exact-duplicate invariant; the 1 s tolerance check
// happens first via ExistsNear.
func (m ImageModel) Insert(ctx context.Context, img *Image) error {
	metaRaw, err := json.Marshal(img.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO images (id, camera_id, filename, captured_at, storage_path, thumbnail_path, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ingested_at`

	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	err = m.DB.QueryRowContext(ctx, query,
		img.ID, img.CameraID, img.Filename, img.CapturedAt.UTC(),
		img.StoragePath, img.ThumbnailPath, ImageStatusPending, metaRaw,
	).Scan(&img.IngestedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateImage
		}
		return err
	}
	img.Status = ImageStatusPending
	return nil
}

// ExistsNear reports whether the camera already has this filename with a
// capture timestamp within the tolerance window.
func (m ImageModel) ExistsNear(ctx context.Context, cameraID uuid.UUID, filename string, capturedAt time.Time, tolerance time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM images
			WHERE camera_id = $1 AND filename = $2
			  AND captured_at BETWEEN $3 AND $4
		)`
	var exists bool
	err := m.DB.QueryRowContext(ctx, query,
		cameraID, filename, capturedAt.Add(-tolerance).UTC(), capturedAt.Add(tolerance).UTC(),
	).Scan(&exists)
	return exists, err
}

func (m ImageModel) GetByID(ctx context.Context, id uuid.UUID) (*Image, error) {
	query := `
		SELECT id, camera_id, filename, captured_at, ingested_at, storage_path,
		       thumbnail_path, annotated_path, status, metadata, is_verified
		FROM images
		WHERE id = $1`

	var img Image
	var metaRaw []byte
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&img.ID, &img.CameraID, &img.Filename, &img.CapturedAt, &img.IngestedAt,
		&img.StoragePath, &img.ThumbnailPath, &img.AnnotatedPath, &img.Status, &metaRaw, &img.IsVerified,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &img.Metadata)
	}
	return &img, nil
}

// SetStatus advances the pipeline state. When from is non-empty the update is
// conditional, so a crashed worker's stale retry cannot regress a row.
func (m ImageModel) SetStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	var res sql.Result
	var err error
	if from == "" {
		res, err = m.DB.ExecContext(ctx, `UPDATE images SET status = $1 WHERE id = $2`, to, id)
	} else {
		res, err = m.DB.ExecContext(ctx, `UPDATE images SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	}
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ImageModel) SetAnnotatedPath(ctx context.Context, id uuid.UUID, path string) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE images SET annotated_path = $1 WHERE id = $2`, path, id)
	return err
}

func (m ImageModel) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	res, err := m.DB.ExecContext(ctx, `UPDATE images SET is_verified = $1 WHERE id = $2`, verified, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes the row and returns the blob paths so the caller can delete
// the raw, thumbnail and annotated objects. Detections cascade in the DB.
func (m ImageModel) Delete(ctx context.Context, id uuid.UUID) (storagePath string, thumbnailPath, annotatedPath *string, err error) {
	query := `DELETE FROM images WHERE id = $1 RETURNING storage_path, thumbnail_path, annotated_path`
	err = m.DB.QueryRowContext(ctx, query, id).Scan(&storagePath, &thumbnailPath, &annotatedPath)
	if err == sql.ErrNoRows {
		err = ErrRecordNotFound
	}
	return
}

// ListIDsByProject returns classified image ids of a project, for the
// reprocess fan-out after a species-list change.
func (m ImageModel) ListIDsByProject(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT i.id
		FROM images i
		JOIN cameras c ON c.id = i.camera_id
		WHERE c.project_id = $1 AND i.status = $2
		ORDER BY i.captured_at`
	rows, err := m.DB.QueryContext(ctx, query, projectID, ImageStatusClassified)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GPSSample is one (captured_at, lat, lon) point pulled from image metadata,
// input to the deployment clustering backfill.
type GPSSample struct {
	CapturedAt time.Time
	Latitude   float64
	Longitude  float64
}

// ListGPSSamples returns chronological GPS points for a camera. Images
// without resolved GPS in metadata are skipped.
func (m ImageModel) ListGPSSamples(ctx context.Context, cameraID uuid.UUID) ([]GPSSample, error) {
	query := `
		SELECT captured_at,
		       (metadata->'gps'->>'lat')::float8,
		       (metadata->'gps'->>'lon')::float8
		FROM images
		WHERE camera_id = $1 AND metadata->'gps' IS NOT NULL
		ORDER BY captured_at`
	rows, err := m.DB.QueryContext(ctx, query, cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GPSSample
	for rows.Next() {
		var s GPSSample
		if err := rows.Scan(&s.CapturedAt, &s.Latitude, &s.Longitude); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

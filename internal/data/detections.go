package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Detection categories from the object detector's closed set.
const (
	CategoryAnimal  = "animal"
	CategoryPerson  = "person"
	CategoryVehicle = "vehicle"
)

// PixelBox is a bounding box in image pixel coordinates.
type PixelBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// NormBox is the same box normalized to [0,1] against image dimensions.
type NormBox struct {
	X float64 `json:"x_min"`
	Y float64 `json:"y_min"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type Detection struct {
	ID         int64     `json:"id"`
	ImageID    uuid.UUID `json:"image_id"`
	Category   string    `json:"category"`
	Pixel      PixelBox  `json:"bbox_pixel"`
	Norm       NormBox   `json:"bbox_norm"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

type DetectionModel struct {
	DB DBTX
}

// InsertBatch writes all detections of one image and fills in their ids.
func (m DetectionModel) InsertBatch(ctx context.Context, imageID uuid.UUID, dets []*Detection) error {
	query := `
		INSERT INTO detections (image_id, category, px_x, px_y, px_w, px_h,
		                        norm_x, norm_y, norm_w, norm_h, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	for _, d := range dets {
		d.ImageID = imageID
		err := m.DB.QueryRowContext(ctx, query,
			imageID, d.Category, d.Pixel.X, d.Pixel.Y, d.Pixel.W, d.Pixel.H,
			d.Norm.X, d.Norm.Y, d.Norm.W, d.Norm.H, d.Confidence,
		).Scan(&d.ID, &d.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListByImage returns detections ordered by descending confidence, ties by id.
func (m DetectionModel) ListByImage(ctx context.Context, imageID uuid.UUID) ([]*Detection, error) {
	query := `
		SELECT id, image_id, category, px_x, px_y, px_w, px_h,
		       norm_x, norm_y, norm_w, norm_h, confidence, created_at
		FROM detections
		WHERE image_id = $1
		ORDER BY confidence DESC, id ASC`

	rows, err := m.DB.QueryContext(ctx, query, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(
			&d.ID, &d.ImageID, &d.Category, &d.Pixel.X, &d.Pixel.Y, &d.Pixel.W, &d.Pixel.H,
			&d.Norm.X, &d.Norm.Y, &d.Norm.W, &d.Norm.H, &d.Confidence, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

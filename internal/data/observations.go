package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidCount = errors.New("observation count must be >= 1")

// Observation is curator-authored ground truth. When the parent image has
// is_verified=true these rows replace AI output in every aggregation path.
type Observation struct {
	ID        int64     `json:"id"`
	ImageID   uuid.UUID `json:"image_id"`
	Species   string    `json:"species"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ObservationModel struct {
	DB DBTX
}

func (m ObservationModel) Create(ctx context.Context, o *Observation) error {
	if o.Count < 1 {
		return ErrInvalidCount
	}
	query := `
		INSERT INTO human_observations (image_id, species, count)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query, o.ImageID, o.Species, o.Count).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (m ObservationModel) Update(ctx context.Context, o *Observation) error {
	if o.Count < 1 {
		return ErrInvalidCount
	}
	query := `
		UPDATE human_observations
		SET species = $1, count = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`
	err := m.DB.QueryRowContext(ctx, query, o.Species, o.Count, o.ID).Scan(&o.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

func (m ObservationModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM human_observations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ObservationModel) ListByImage(ctx context.Context, imageID uuid.UUID) ([]*Observation, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, image_id, species, count, created_at, updated_at
		FROM human_observations
		WHERE image_id = $1
		ORDER BY id`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.ImageID, &o.Species, &o.Count, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Deployment is one contiguous interval a camera spent at effectively one
// location. EndDate nil means currently deployed. Periods of a camera never
// overlap and seq is monotonic.
type Deployment struct {
	ID        int64      `json:"id"`
	CameraID  uuid.UUID  `json:"camera_id"`
	Seq       int        `json:"seq"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type DeploymentModel struct {
	DB DBTX
}

// Current returns the open deployment period of a camera.
func (m DeploymentModel) Current(ctx context.Context, cameraID uuid.UUID) (*Deployment, error) {
	query := `
		SELECT id, camera_id, seq, latitude, longitude, start_date, end_date
		FROM camera_deployments
		WHERE camera_id = $1 AND end_date IS NULL
		ORDER BY seq DESC
		LIMIT 1`

	var d Deployment
	err := m.DB.QueryRowContext(ctx, query, cameraID).Scan(
		&d.ID, &d.CameraID, &d.Seq, &d.Latitude, &d.Longitude, &d.StartDate, &d.EndDate)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Open closes the current period (if any) at startDate and opens a new one.
// Called when GPS moved more than the relocation threshold.
func (m DeploymentModel) Open(ctx context.Context, cameraID uuid.UUID, lat, lon float64, startDate time.Time) (*Deployment, error) {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE camera_deployments SET end_date = $1
		WHERE camera_id = $2 AND end_date IS NULL`, startDate.UTC(), cameraID)
	if err != nil {
		return nil, err
	}

	d := &Deployment{CameraID: cameraID, Latitude: lat, Longitude: lon, StartDate: startDate.UTC()}
	query := `
		INSERT INTO camera_deployments (camera_id, seq, latitude, longitude, start_date)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM camera_deployments WHERE camera_id = $1), 0) + 1, $2, $3, $4)
		RETURNING id, seq`
	err = m.DB.QueryRowContext(ctx, query, cameraID, lat, lon, startDate.UTC()).Scan(&d.ID, &d.Seq)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (m DeploymentModel) ListByCamera(ctx context.Context, cameraID uuid.UUID) ([]*Deployment, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, camera_id, seq, latitude, longitude, start_date, end_date
		FROM camera_deployments
		WHERE camera_id = $1
		ORDER BY seq`, cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.CameraID, &d.Seq, &d.Latitude, &d.Longitude, &d.StartDate, &d.EndDate); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ReplaceAll rewrites the full deployment history of a camera. Used by the
// clustering backfill, which recomputes periods from stored image GPS.
func (m DeploymentModel) ReplaceAll(ctx context.Context, cameraID uuid.UUID, periods []*Deployment) error {
	if _, err := m.DB.ExecContext(ctx, `DELETE FROM camera_deployments WHERE camera_id = $1`, cameraID); err != nil {
		return err
	}
	for i, d := range periods {
		query := `
			INSERT INTO camera_deployments (camera_id, seq, latitude, longitude, start_date, end_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`
		if err := m.DB.QueryRowContext(ctx, query,
			cameraID, i+1, d.Latitude, d.Longitude, d.StartDate.UTC(), d.EndDate,
		).Scan(&d.ID); err != nil {
			return err
		}
		d.Seq = i + 1
		d.CameraID = cameraID
	}
	return nil
}

package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Project is a study-area tenant. All camera, image and notification data is
// scoped by project.
type Project struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	BoundaryGeoJSON     *string   `json:"boundary_geojson,omitempty"`
	IncludedSpecies     []string  `json:"included_species"` // empty means all model classes
	DetectionThreshold  float64   `json:"detection_threshold"`
	BlurPeopleVehicles  bool      `json:"blur_people_vehicles"`
	IndependenceMinutes int       `json:"independence_minutes"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ProjectModel struct {
	DB DBTX
}

func (m ProjectModel) Create(ctx context.Context, p *Project) error {
	query := `
		INSERT INTO projects (name, description, boundary_geojson, included_species,
		                      detection_threshold, blur_people_vehicles, independence_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		p.Name, p.Description, p.BoundaryGeoJSON, pq.Array(p.IncludedSpecies),
		p.DetectionThreshold, p.BlurPeopleVehicles, p.IndependenceMinutes,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (m ProjectModel) GetByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	query := `
		SELECT id, name, description, boundary_geojson, included_species,
		       detection_threshold, blur_people_vehicles, independence_minutes,
		       created_at, updated_at
		FROM projects
		WHERE id = $1`

	var p Project
	var species []string
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.BoundaryGeoJSON, pq.Array(&species),
		&p.DetectionThreshold, &p.BlurPeopleVehicles, &p.IndependenceMinutes,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	p.IncludedSpecies = species
	return &p, nil
}

func (m ProjectModel) Update(ctx context.Context, p *Project) error {
	query := `
		UPDATE projects
		SET name = $1, description = $2, boundary_geojson = $3, included_species = $4,
		    detection_threshold = $5, blur_people_vehicles = $6, independence_minutes = $7,
		    updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		p.Name, p.Description, p.BoundaryGeoJSON, pq.Array(p.IncludedSpecies),
		p.DetectionThreshold, p.BlurPeopleVehicles, p.IndependenceMinutes, p.ID,
	).Scan(&p.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return err
}

// Delete removes the project row. Owned rows (cameras detach, memberships,
// invitations, preferences, images via cameras) go through FK cascade; blob
// cleanup is the caller's job because the DB cannot reach the object store.
func (m ProjectModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m ProjectModel) List(ctx context.Context) ([]*Project, error) {
	query := `
		SELECT id, name, description, boundary_geojson, included_species,
		       detection_threshold, blur_people_vehicles, independence_minutes,
		       created_at, updated_at
		FROM projects
		ORDER BY name`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var species []string
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.BoundaryGeoJSON, pq.Array(&species),
			&p.DetectionThreshold, &p.BlurPeopleVehicles, &p.IndependenceMinutes,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.IncludedSpecies = species
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetForCamera resolves the owning project of a camera, or ErrRecordNotFound
// when the camera is unassigned.
func (m ProjectModel) GetForCamera(ctx context.Context, cameraID uuid.UUID) (*Project, error) {
	query := `
		SELECT p.id, p.name, p.description, p.boundary_geojson, p.included_species,
		       p.detection_threshold, p.blur_people_vehicles, p.independence_minutes,
		       p.created_at, p.updated_at
		FROM projects p
		JOIN cameras c ON c.project_id = p.id
		WHERE c.id = $1`

	var p Project
	var species []string
	err := m.DB.QueryRowContext(ctx, query, cameraID).Scan(
		&p.ID, &p.Name, &p.Description, &p.BoundaryGeoJSON, pq.Array(&species),
		&p.DetectionThreshold, &p.BlurPeopleVehicles, &p.IndependenceMinutes,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	p.IncludedSpecies = species
	return &p, nil
}

package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Camera status lifecycle. A camera that never sent a daily report stays
// never_reported regardless of image traffic.
const (
	CameraStatusInventory     = "inventory"
	CameraStatusActive        = "active"
	CameraStatusInactive      = "inactive"
	CameraStatusNeverReported = "never_reported"
)

var ErrCameraNotFound = errors.New("camera not found")

// HealthSnapshot is the cached last-known device health from a daily report.
type HealthSnapshot struct {
	BatteryPercent *float64 `json:"battery_percent,omitempty"`
	TemperatureC   *float64 `json:"temperature_c,omitempty"`
	SignalStrength *int     `json:"signal_strength,omitempty"` // 0..31
	SDUsedPercent  *float64 `json:"sd_used_percent,omitempty"`
}

type Camera struct {
	ID                uuid.UUID      `json:"id"`
	Serial            string         `json:"serial"`
	Name              string         `json:"name"`
	Make              string         `json:"make,omitempty"`
	Model             string         `json:"model,omitempty"`
	IMEI              string         `json:"imei,omitempty"`
	ProjectID         *uuid.UUID     `json:"project_id,omitempty"`
	Status            string         `json:"status"`
	Latitude          *float64       `json:"latitude,omitempty"`
	Longitude         *float64       `json:"longitude,omitempty"`
	Health            HealthSnapshot `json:"health"`
	LastSeen          *time.Time     `json:"last_seen,omitempty"`
	LastDailyReportAt *time.Time     `json:"last_daily_report_at,omitempty"`
	LastImageAt       *time.Time     `json:"last_image_at,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, serial, name, make, model, imei, project_id, status,
	latitude, longitude, battery_percent, temperature_c, signal_strength, sd_used_percent,
	last_seen, last_daily_report_at, last_image_at, config, created_at, updated_at`

func (m CameraModel) scan(row interface{ Scan(...any) error }) (*Camera, error) {
	var c Camera
	var configRaw []byte
	err := row.Scan(
		&c.ID, &c.Serial, &c.Name, &c.Make, &c.Model, &c.IMEI, &c.ProjectID, &c.Status,
		&c.Latitude, &c.Longitude,
		&c.Health.BatteryPercent, &c.Health.TemperatureC, &c.Health.SignalStrength, &c.Health.SDUsedPercent,
		&c.LastSeen, &c.LastDailyReportAt, &c.LastImageAt, &configRaw, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &c.Config)
	}
	return &c, nil
}

// UpsertBySerial creates the camera on first sight or refreshes make/model
// metadata on subsequent uploads. Never touches project assignment.
func (m CameraModel) UpsertBySerial(ctx context.Context, c *Camera) error {
	query := `
		INSERT INTO cameras (serial, name, make, model, imei, status, config)
		VALUES ($1, $2, $3, $4, $5, $6, '{}')
		ON CONFLICT (serial) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), cameras.name),
		    make = COALESCE(NULLIF(EXCLUDED.make, ''), cameras.make),
		    model = COALESCE(NULLIF(EXCLUDED.model, ''), cameras.model),
		    imei = COALESCE(NULLIF(EXCLUDED.imei, ''), cameras.imei),
		    updated_at = NOW()
		RETURNING id, status, project_id, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		c.Serial, c.Name, c.Make, c.Model, c.IMEI, CameraStatusNeverReported,
	).Scan(&c.ID, &c.Status, &c.ProjectID, &c.CreatedAt, &c.UpdatedAt)
}

func (m CameraModel) GetByID(ctx context.Context, id uuid.UUID) (*Camera, error) {
	return m.scan(m.DB.QueryRowContext(ctx, `SELECT`+cameraColumns+` FROM cameras WHERE id = $1`, id))
}

func (m CameraModel) GetBySerial(ctx context.Context, serial string) (*Camera, error) {
	return m.scan(m.DB.QueryRowContext(ctx, `SELECT`+cameraColumns+` FROM cameras WHERE serial = $1`, serial))
}

func (m CameraModel) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Camera, error) {
	rows, err := m.DB.QueryContext(ctx, `SELECT`+cameraColumns+` FROM cameras WHERE project_id = $1 ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Camera
	for rows.Next() {
		c, err := m.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateHealth applies a parsed daily report: health snapshot, GPS, config
// blob and the report timestamp. Status derivation is the health package's
// job and applied separately via SetStatus.
func (m CameraModel) UpdateHealth(ctx context.Context, id uuid.UUID, h HealthSnapshot, lat, lon *float64, config map[string]any, reportedAt time.Time) error {
	configRaw, err := json.Marshal(config)
	if err != nil {
		return err
	}
	query := `
		UPDATE cameras
		SET battery_percent = $1, temperature_c = $2, signal_strength = $3, sd_used_percent = $4,
		    latitude = COALESCE($5, latitude), longitude = COALESCE($6, longitude),
		    config = config || $7::jsonb,
		    last_daily_report_at = $8, last_seen = GREATEST(COALESCE(last_seen, $8), $8),
		    updated_at = NOW()
		WHERE id = $9`
	res, err := m.DB.ExecContext(ctx, query,
		h.BatteryPercent, h.TemperatureC, h.SignalStrength, h.SDUsedPercent,
		lat, lon, configRaw, reportedAt.UTC(), id,
	)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrCameraNotFound
	}
	return nil
}

func (m CameraModel) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE cameras SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrCameraNotFound
	}
	return nil
}

// TouchImage records a successful image ingestion for the camera.
func (m CameraModel) TouchImage(ctx context.Context, id uuid.UUID, capturedAt time.Time) error {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE cameras
		SET last_image_at = GREATEST(COALESCE(last_image_at, $1), $1),
		    last_seen = GREATEST(COALESCE(last_seen, $1), $1),
		    updated_at = NOW()
		WHERE id = $2`, capturedAt.UTC(), id)
	return err
}

// SetLocation moves the camera's current deployment point.
func (m CameraModel) SetLocation(ctx context.Context, id uuid.UUID, lat, lon float64) error {
	_, err := m.DB.ExecContext(ctx,
		`UPDATE cameras SET latitude = $1, longitude = $2, updated_at = NOW() WHERE id = $3`, lat, lon, id)
	return err
}

// CountLowBattery counts project cameras at or below the battery threshold.
// Feeds the scheduled battery digest.
func (m CameraModel) CountLowBattery(ctx context.Context, projectID uuid.UUID, threshold float64) (int, []string, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT name, battery_percent
		FROM cameras
		WHERE project_id = $1 AND battery_percent IS NOT NULL AND battery_percent <= $2
		ORDER BY battery_percent ASC`, projectID, threshold)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		var battery float64
		if err := rows.Scan(&name, &battery); err != nil {
			return 0, nil, err
		}
		names = append(names, name)
	}
	return len(names), names, rows.Err()
}

// ListReported returns ids and last report times for every camera that has
// reported at least once, for the status sweeper.
func (m CameraModel) ListReported(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT id, last_daily_report_at FROM cameras WHERE last_daily_report_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var id uuid.UUID
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

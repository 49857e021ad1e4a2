package data

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatsModel backs the periodic report job. All species aggregation honours
// the verified-image override: verified images count from human_observations,
// unverified ones from classifications whose parent detection clears the
// project threshold.
type StatsModel struct {
	DB DBTX
}

type SpeciesCount struct {
	Species string `json:"species"`
	Count   int    `json:"count"`
}

type PeriodStats struct {
	NewImages      int            `json:"new_images"`
	TotalImages    int            `json:"total_images"`
	TopSpecies     []SpeciesCount `json:"top_species"`
	ActiveCameras  int            `json:"active_cameras"`
	SilentCameras  int            `json:"silent_cameras"`
	LowBattery     int            `json:"low_battery"`
	HourlyActivity [24]int        `json:"hourly_activity"`
	DailyTimeline  map[string]int `json:"daily_timeline"` // YYYY-MM-DD -> images
}

func (m StatsModel) PeriodStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*PeriodStats, error) {
	st := &PeriodStats{DailyTimeline: make(map[string]int)}

	err := m.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE i.captured_at >= $2 AND i.captured_at < $3),
			COUNT(*)
		FROM images i
		JOIN cameras c ON c.id = i.camera_id
		WHERE c.project_id = $1`, projectID, from.UTC(), to.UTC(),
	).Scan(&st.NewImages, &st.TotalImages)
	if err != nil {
		return nil, err
	}

	err = m.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE battery_percent IS NOT NULL AND battery_percent <= 30)
		FROM cameras
		WHERE project_id = $1`, projectID, CameraStatusActive, CameraStatusInactive,
	).Scan(&st.ActiveCameras, &st.SilentCameras, &st.LowBattery)
	if err != nil {
		return nil, err
	}

	top, err := m.TopSpecies(ctx, projectID, from, to, 10)
	if err != nil {
		return nil, err
	}
	st.TopSpecies = top

	rows, err := m.DB.QueryContext(ctx, `
		SELECT EXTRACT(HOUR FROM i.captured_at)::int, to_char(i.captured_at, 'YYYY-MM-DD'), COUNT(*)
		FROM images i
		JOIN cameras c ON c.id = i.camera_id
		WHERE c.project_id = $1 AND i.captured_at >= $2 AND i.captured_at < $3
		GROUP BY 1, 2`, projectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var hour, count int
		var day string
		if err := rows.Scan(&hour, &day, &count); err != nil {
			return nil, err
		}
		if hour >= 0 && hour < 24 {
			st.HourlyActivity[hour] += count
		}
		st.DailyTimeline[day] += count
	}
	return st, rows.Err()
}

// TopSpecies unions the verified and unverified sources. The detection
// confidence gate only applies to the AI-sourced half.
func (m StatsModel) TopSpecies(ctx context.Context, projectID uuid.UUID, from, to time.Time, limit int) ([]SpeciesCount, error) {
	query := `
		SELECT species, SUM(n)::int AS total FROM (
			SELECT o.species, SUM(o.count) AS n
			FROM human_observations o
			JOIN images i ON i.id = o.image_id AND i.is_verified
			JOIN cameras c ON c.id = i.camera_id
			WHERE c.project_id = $1 AND i.captured_at >= $2 AND i.captured_at < $3
			GROUP BY o.species
			UNION ALL
			SELECT cl.species, COUNT(*) AS n
			FROM classifications cl
			JOIN detections d ON d.id = cl.detection_id
			JOIN images i ON i.id = d.image_id AND NOT i.is_verified
			JOIN cameras c ON c.id = i.camera_id
			JOIN projects p ON p.id = c.project_id
			WHERE c.project_id = $1 AND i.captured_at >= $2 AND i.captured_at < $3
			  AND d.confidence >= p.detection_threshold
			GROUP BY cl.species
		) src
		GROUP BY species
		ORDER BY total DESC, species ASC
		LIMIT $4`

	rows, err := m.DB.QueryContext(ctx, query, projectID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpeciesCount
	for rows.Next() {
		var sc SpeciesCount
		if err := rows.Scan(&sc.Species, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ObservationRow is one flattened species observation used by the
// independence-interval grouper. Verified images contribute summed human
// counts, unverified ones classification counts.
type ObservationRow struct {
	CameraID   uuid.UUID
	Species    string
	CapturedAt time.Time
	Count      int
}

func (m StatsModel) ObservationRows(ctx context.Context, projectID uuid.UUID, from, to time.Time) ([]ObservationRow, error) {
	query := `
		SELECT camera_id, species, captured_at, n FROM (
			SELECT i.camera_id, o.species, i.captured_at, SUM(o.count)::int AS n
			FROM human_observations o
			JOIN images i ON i.id = o.image_id AND i.is_verified
			JOIN cameras c ON c.id = i.camera_id
			WHERE c.project_id = $1 AND i.captured_at >= $2 AND i.captured_at < $3
			GROUP BY i.camera_id, o.species, i.captured_at
			UNION ALL
			SELECT i.camera_id, cl.species, i.captured_at, COUNT(*)::int AS n
			FROM classifications cl
			JOIN detections d ON d.id = cl.detection_id
			JOIN images i ON i.id = d.image_id AND NOT i.is_verified
			JOIN cameras c ON c.id = i.camera_id
			JOIN projects p ON p.id = c.project_id
			WHERE c.project_id = $1 AND i.captured_at >= $2 AND i.captured_at < $3
			  AND d.confidence >= p.detection_threshold
			GROUP BY i.camera_id, cl.species, i.captured_at
		) src
		ORDER BY camera_id, species, captured_at`

	rows, err := m.DB.QueryContext(ctx, query, projectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ObservationRow
	for rows.Next() {
		var r ObservationRow
		if err := rows.Scan(&r.CameraID, &r.Species, &r.CapturedAt, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

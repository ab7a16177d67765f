package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"floodguard/internal/types"
)

// maxReadingBatch bounds one multi-row insert (8 params per row).
const maxReadingBatch = 500

// ReadingRepository provides data access for the readings table.
type ReadingRepository struct {
	db DBTX
}

// NewReadingRepository creates a ReadingRepository.
func NewReadingRepository(db DBTX) *ReadingRepository {
	return &ReadingRepository{db: db}
}

const readingColumns = `location_id, observed_at, water_level, flow_rate,
	rainfall_in, soil_moisture_pct, temperature_f, pressure_mb`

// Insert stores readings. Rows that already exist for the same location and
// timestamp are left unchanged, so redelivered telemetry is harmless.
func (r *ReadingRepository) Insert(ctx context.Context, readings []types.Reading) error {
	for start := 0; start < len(readings); start += maxReadingBatch {
		end := min(start+maxReadingBatch, len(readings))
		if err := r.insertBatch(ctx, readings[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ReadingRepository) insertBatch(ctx context.Context, readings []types.Reading) error {
	values := make([]string, len(readings))
	args := make([]any, 0, len(readings)*8)
	for i, rd := range readings {
		base := i * 8
		values[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			rd.LocationID, rd.Timestamp.UTC(), rd.WaterLevel, rd.FlowRate,
			rd.RainfallIn, rd.SoilMoisturePct, rd.TemperatureF, rd.PressureMB,
		)
	}
	query := `INSERT INTO readings (` + readingColumns + `) VALUES ` +
		strings.Join(values, ", ") +
		` ON CONFLICT (location_id, observed_at) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert readings", err)
	}
	return nil
}

// Since returns a location's readings observed at or after since, oldest
// first.
func (r *ReadingRepository) Since(ctx context.Context, locationID string, since time.Time) ([]types.Reading, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+readingColumns+`
		 FROM readings
		 WHERE location_id = $1 AND observed_at >= $2
		 ORDER BY observed_at ASC`,
		locationID, since.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list readings", err)
	}
	defer rows.Close()

	readings := make([]types.Reading, 0)
	for rows.Next() {
		var rd types.Reading
		if err := rows.Scan(
			&rd.LocationID, &rd.Timestamp, &rd.WaterLevel, &rd.FlowRate,
			&rd.RainfallIn, &rd.SoilMoisturePct, &rd.TemperatureF, &rd.PressureMB,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reading row", err)
		}
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reading rows", err)
	}
	return readings, nil
}

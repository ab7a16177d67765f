package db

import (
	"context"
	"slices"

	"floodguard/internal/types"
)

// AccuracyRepository persists each location's accuracy log. Only the most
// recent entries are ever read back; older rows are history.
type AccuracyRepository struct {
	db DBTX
}

// NewAccuracyRepository creates an AccuracyRepository.
func NewAccuracyRepository(db DBTX) *AccuracyRepository {
	return &AccuracyRepository{db: db}
}

// AppendAccuracy inserts one record.
func (r *AccuracyRepository) AppendAccuracy(ctx context.Context, locationID string, rec types.AccuracyRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accuracy_records (location_id, predicted, actual, correct, recorded_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		locationID, rec.Predicted, rec.Actual, rec.Correct, nilIfZeroTime(rec.RecordedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append accuracy record", err)
	}
	return nil
}

// RecentAccuracy returns up to limit records, oldest first.
func (r *AccuracyRepository) RecentAccuracy(ctx context.Context, locationID string, limit int) ([]types.AccuracyRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT predicted, actual, correct, recorded_at
		 FROM accuracy_records
		 WHERE location_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		locationID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list accuracy records", err)
	}
	defer rows.Close()

	records := make([]types.AccuracyRecord, 0, limit)
	for rows.Next() {
		var rec types.AccuracyRecord
		if err := rows.Scan(&rec.Predicted, &rec.Actual, &rec.Correct, &rec.RecordedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan accuracy row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating accuracy rows", err)
	}
	slices.Reverse(records)
	return records, nil
}

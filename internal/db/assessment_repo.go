package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"floodguard/internal/types"
)

// AssessmentRepository records emitted assessments. The full decision
// bundle is kept as JSONB next to the columns used for querying.
type AssessmentRepository struct {
	db DBTX
}

// NewAssessmentRepository creates an AssessmentRepository.
func NewAssessmentRepository(db DBTX) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// SaveAssessment inserts a. Assessment IDs are derived from the location and
// instant, so saving the same assessment twice is a no-op.
func (r *AssessmentRepository) SaveAssessment(ctx context.Context, a types.RiskAssessment) error {
	body, err := json.Marshal(a)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode assessment", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO assessments (
			id, location_id, assessed_at, score, level, confidence,
			policy_action, evacuation_recommended, body
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		a.ID,
		a.LocationID,
		a.AssessedAt.UTC(),
		a.Score,
		a.Level,
		a.Confidence,
		nilIfEmpty(string(a.PolicyAction)),
		a.EvacuationRecommended,
		body,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save assessment", err)
	}
	return nil
}

// Latest returns the most recent assessment for a location.
func (r *AssessmentRepository) Latest(ctx context.Context, locationID string) (*types.RiskAssessment, error) {
	var body []byte
	err := r.db.QueryRow(ctx,
		`SELECT body FROM assessments
		 WHERE location_id = $1
		 ORDER BY assessed_at DESC
		 LIMIT 1`,
		locationID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLocation, "no assessment recorded for location", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve assessment", err)
	}

	var a types.RiskAssessment
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode stored assessment", err)
	}
	return &a, nil
}

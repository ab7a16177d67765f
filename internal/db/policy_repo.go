package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zstd"

	"floodguard/internal/types"
)

// maxPolicyDocumentSize caps a decompressed policy document.
const maxPolicyDocumentSize = 64 << 20

// PolicySnapshotRepository stores exported policy documents zstd-compressed.
// Snapshots are append-only and versioned per location; the highest version
// is the live one.
type PolicySnapshotRepository struct {
	db DBTX

	encoder     *zstd.Encoder
	decoderPool sync.Pool
}

// NewPolicySnapshotRepository creates a PolicySnapshotRepository.
func NewPolicySnapshotRepository(db DBTX) *PolicySnapshotRepository {
	// A nil writer with fixed options cannot fail.
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return &PolicySnapshotRepository{
		db:      db,
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil,
					zstd.WithDecoderConcurrency(1),
					zstd.WithDecoderMaxMemory(maxPolicyDocumentSize),
				)
				if err != nil {
					return nil
				}
				return d
			},
		},
	}
}

// SavePolicy appends document as version expected+1 and returns the new
// version. It fails with ErrCodeConflictStalePolicy when the newest stored
// version is not expected, so a writer that missed another writer's snapshot
// cannot replace it.
func (r *PolicySnapshotRepository) SavePolicy(ctx context.Context, locationID string, document []byte, expected int64) (int64, error) {
	compressed := r.encoder.EncodeAll(document, make([]byte, 0, len(document)/4))
	tag, err := r.db.Exec(ctx,
		`INSERT INTO policy_snapshots (location_id, version, document, raw_size)
		 SELECT $1, $2::BIGINT + 1, $3, $4
		 WHERE COALESCE((SELECT MAX(version) FROM policy_snapshots WHERE location_id = $1), 0) = $2`,
		locationID, expected, compressed, len(document),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, stalePolicy(locationID, expected)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to save policy snapshot", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, stalePolicy(locationID, expected)
	}
	return expected + 1, nil
}

func stalePolicy(locationID string, expected int64) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictStalePolicy,
		"policy snapshot was replaced by another writer", nil,
		map[string]any{"location_id": locationID, "expected_version": expected})
}

// LoadPolicy returns the newest snapshot. A location with none yields the
// zero snapshot.
func (r *PolicySnapshotRepository) LoadPolicy(ctx context.Context, locationID string) (types.PolicySnapshot, error) {
	var (
		compressed []byte
		version    int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT document, version FROM policy_snapshots
		 WHERE location_id = $1
		 ORDER BY version DESC
		 LIMIT 1`,
		locationID,
	).Scan(&compressed, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.PolicySnapshot{}, nil
		}
		return types.PolicySnapshot{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load policy snapshot", err)
	}

	document, err := r.decompress(compressed)
	if err != nil {
		return types.PolicySnapshot{}, types.NewAppError(types.ErrCodeInternalSnapshot, "policy snapshot is corrupt", err)
	}
	return types.PolicySnapshot{Document: document, Version: version}, nil
}

// PolicyVersion returns the newest stored version, 0 when there is none.
func (r *PolicySnapshotRepository) PolicyVersion(ctx context.Context, locationID string) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM policy_snapshots WHERE location_id = $1`,
		locationID,
	).Scan(&version)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read policy version", err)
	}
	return version, nil
}

func (r *PolicySnapshotRepository) decompress(data []byte) ([]byte, error) {
	decoder, ok := r.decoderPool.Get().(*zstd.Decoder)
	if !ok || decoder == nil {
		return nil, errors.New("zstd decoder unavailable")
	}
	defer r.decoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

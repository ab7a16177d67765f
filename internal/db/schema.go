package db

import (
	"context"

	"floodguard/internal/types"
)

// Schema creates every table the repositories use. Statements are
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS readings (
	location_id       TEXT             NOT NULL,
	observed_at       TIMESTAMPTZ      NOT NULL,
	water_level       DOUBLE PRECISION NOT NULL,
	flow_rate         DOUBLE PRECISION,
	rainfall_in       DOUBLE PRECISION,
	soil_moisture_pct DOUBLE PRECISION,
	temperature_f     DOUBLE PRECISION,
	pressure_mb       DOUBLE PRECISION,
	PRIMARY KEY (location_id, observed_at)
);

CREATE TABLE IF NOT EXISTS assessments (
	id                     UUID             PRIMARY KEY,
	location_id            TEXT             NOT NULL,
	assessed_at            TIMESTAMPTZ      NOT NULL,
	score                  DOUBLE PRECISION NOT NULL,
	level                  TEXT             NOT NULL,
	confidence             DOUBLE PRECISION NOT NULL,
	policy_action          TEXT,
	evacuation_recommended BOOLEAN          NOT NULL DEFAULT FALSE,
	body                   JSONB            NOT NULL,
	created_at             TIMESTAMPTZ      NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS assessments_location_time_idx ON assessments (location_id, assessed_at DESC);

CREATE TABLE IF NOT EXISTS accuracy_records (
	id          BIGSERIAL   PRIMARY KEY,
	location_id TEXT        NOT NULL,
	predicted   TEXT        NOT NULL,
	actual      TEXT        NOT NULL,
	correct     BOOLEAN     NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS accuracy_location_idx ON accuracy_records (location_id, id DESC);

CREATE TABLE IF NOT EXISTS policy_snapshots (
	id          BIGSERIAL   PRIMARY KEY,
	location_id TEXT        NOT NULL,
	version     BIGINT      NOT NULL,
	document    BYTEA       NOT NULL,
	raw_size    INTEGER     NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS policy_snapshots_version_idx ON policy_snapshots (location_id, version DESC);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	return nil
}

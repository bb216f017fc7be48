package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaSQL holds the payrail_saga table structure. Usable for
// initialization or migrations.
const SchemaSQL = `
CREATE SCHEMA IF NOT EXISTS payrail_saga;

CREATE TABLE IF NOT EXISTS payrail_saga.sagas (
  id UUID PRIMARY KEY,
  name VARCHAR(128) NOT NULL,
  status VARCHAR(16) NOT NULL,
  tenant_id VARCHAR(64) NOT NULL,
  business_unit_id VARCHAR(64) NOT NULL DEFAULT '',
  correlation_id VARCHAR(128) NOT NULL,
  payment_id VARCHAR(128),
  saga_data JSONB,
  current_step INT NOT NULL DEFAULT 0,
  error_message TEXT,
  started_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ,
  failed_at TIMESTAMPTZ,
  compensated_at TIMESTAMPTZ,
  version BIGINT NOT NULL DEFAULT 0,
  updated_by VARCHAR(64)
);
CREATE INDEX IF NOT EXISTS idx_sagas_tenant_payment ON payrail_saga.sagas(tenant_id, payment_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sagas_tenant_correlation ON payrail_saga.sagas(tenant_id, correlation_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sagas_status_started ON payrail_saga.sagas(status, started_at);

CREATE TABLE IF NOT EXISTS payrail_saga.saga_steps (
  id UUID PRIMARY KEY,
  saga_id UUID NOT NULL REFERENCES payrail_saga.sagas(id),
  sequence INT NOT NULL,
  name VARCHAR(128) NOT NULL,
  type VARCHAR(32) NOT NULL,
  service VARCHAR(128) NOT NULL,
  endpoint VARCHAR(256) NOT NULL,
  compensation_endpoint VARCHAR(256),
  input JSONB,
  output JSONB,
  error_data JSONB,
  retry_count INT NOT NULL DEFAULT 0,
  max_retries INT NOT NULL DEFAULT 0,
  status VARCHAR(16) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (saga_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_saga_steps_status_updated ON payrail_saga.saga_steps(status, updated_at);

CREATE TABLE IF NOT EXISTS payrail_saga.saga_events (
  id BIGSERIAL PRIMARY KEY,
  saga_id UUID NOT NULL,
  tenant_id VARCHAR(64) NOT NULL,
  business_unit_id VARCHAR(64) NOT NULL DEFAULT '',
  correlation_id VARCHAR(128) NOT NULL,
  type VARCHAR(64) NOT NULL,
  payload JSONB,
  occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saga_events_saga ON payrail_saga.saga_events(saga_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_saga_events_correlation ON payrail_saga.saga_events(correlation_id, occurred_at);

CREATE TABLE IF NOT EXISTS payrail_saga.tenants (
  id VARCHAR(64) PRIMARY KEY,
  name VARCHAR(256) NOT NULL
);

CREATE TABLE IF NOT EXISTS payrail_saga.business_units (
  id VARCHAR(64) PRIMARY KEY,
  tenant_id VARCHAR(64) NOT NULL REFERENCES payrail_saga.tenants(id),
  name VARCHAR(256) NOT NULL
);
`

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

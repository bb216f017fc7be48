// Package repository is the data access layer for sagas, steps and
// lifecycle events.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/payrail/orchestrator/internal/saga"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
)

// SagaRepository persists sagas and their steps.
type SagaRepository struct {
	db *sql.DB
}

func NewSagaRepository(db *sql.DB) *SagaRepository {
	return &SagaRepository{db: db}
}

const sagaColumns = `
	id, name, status, tenant_id, business_unit_id, correlation_id,
	payment_id, saga_data, current_step, error_message,
	started_at, completed_at, failed_at, compensated_at,
	version, updated_by
`

const stepColumns = `
	id, saga_id, sequence, name, type, service, endpoint,
	compensation_endpoint, input, output, error_data,
	retry_count, max_retries, status, created_at, updated_at
`

// CreateSaga inserts the saga and all of its steps in one transaction.
func (r *SagaRepository) CreateSaga(ctx context.Context, sg *saga.Saga) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sagaData, err := marshalData(sg.SagaData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payrail_saga.sagas (` + sagaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = tx.ExecContext(ctx, query,
		sg.ID, sg.Name, string(sg.Status), sg.TenantID, sg.BusinessUnitID, sg.CorrelationID,
		nullString(sg.PaymentID), sagaData, sg.CurrentStep, nullString(sg.ErrorMessage),
		sg.StartedAt, nullTime(sg.CompletedAt), nullTime(sg.FailedAt), nullTime(sg.CompensatedAt),
		sg.Version, nullString(sg.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert saga: %w", err)
	}

	for _, st := range sg.Steps {
		if err := insertStep(ctx, tx, st); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, st *saga.Step) error {
	input, err := marshalData(st.Input)
	if err != nil {
		return err
	}
	output, err := marshalData(st.Output)
	if err != nil {
		return err
	}
	errorData, err := marshalData(st.ErrorData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payrail_saga.saga_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = tx.ExecContext(ctx, query,
		st.ID, st.SagaID, st.Sequence, st.Name, string(st.Type), st.Service, st.Endpoint,
		nullString(st.CompensationEndpoint), input, output, errorData,
		st.RetryCount, st.MaxRetries, string(st.Status), st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step %d: %w", st.Sequence, err)
	}
	return nil
}

// GetSaga loads a saga and its steps ordered by sequence.
func (r *SagaRepository) GetSaga(ctx context.Context, id string) (*saga.Saga, error) {
	query := `SELECT ` + sagaColumns + ` FROM payrail_saga.sagas WHERE id = $1`
	sg, err := scanSaga(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	steps, err := r.StepsBySagaID(ctx, id)
	if err != nil {
		return nil, err
	}
	sg.Steps = steps
	return sg, nil
}

// StepsBySagaID loads all steps for a saga ordered by sequence ascending.
func (r *SagaRepository) StepsBySagaID(ctx context.Context, sagaID string) ([]*saga.Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM payrail_saga.saga_steps
		WHERE saga_id = $1
		ORDER BY sequence ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sagaID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []*saga.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// GetStep loads one step by ID.
func (r *SagaRepository) GetStep(ctx context.Context, stepID string) (*saga.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM payrail_saga.saga_steps WHERE id = $1`
	return scanStep(r.db.QueryRowContext(ctx, query, stepID))
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UpdateSaga writes saga header fields guarded by the optimistic version
// counter. On success the in-memory version is bumped.
func (r *SagaRepository) UpdateSaga(ctx context.Context, sg *saga.Saga) error {
	if err := updateSaga(ctx, r.db, sg); err != nil {
		return err
	}
	sg.Version++
	return nil
}

// UpdateStep writes the mutable step fields.
func (r *SagaRepository) UpdateStep(ctx context.Context, st *saga.Step) error {
	return updateStep(ctx, r.db, st)
}

// UpdateStepAndSaga writes a step and its saga's header in one transaction,
// guarded by the saga's version counter. A version conflict rolls back both
// writes, so a failed cursor advance never strands a step in a state the
// saga header does not reflect.
func (r *SagaRepository) UpdateStepAndSaga(ctx context.Context, st *saga.Step, sg *saga.Saga) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateStep(ctx, tx, st); err != nil {
		return err
	}
	if err := updateSaga(ctx, tx, sg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	sg.Version++
	return nil
}

func updateSaga(ctx context.Context, ex execer, sg *saga.Saga) error {
	sagaData, err := marshalData(sg.SagaData)
	if err != nil {
		return err
	}

	query := `
		UPDATE payrail_saga.sagas
		SET status = $1, saga_data = $2, current_step = $3, error_message = $4,
		    completed_at = $5, failed_at = $6, compensated_at = $7,
		    version = version + 1, updated_by = $8
		WHERE id = $9 AND version = $10
	`
	res, err := ex.ExecContext(ctx, query,
		string(sg.Status), sagaData, sg.CurrentStep, nullString(sg.ErrorMessage),
		nullTime(sg.CompletedAt), nullTime(sg.FailedAt), nullTime(sg.CompensatedAt),
		nullString(sg.UpdatedBy), sg.ID, sg.Version,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOptimisticLockFailed
	}
	return nil
}

func updateStep(ctx context.Context, ex execer, st *saga.Step) error {
	output, err := marshalData(st.Output)
	if err != nil {
		return err
	}
	errorData, err := marshalData(st.ErrorData)
	if err != nil {
		return err
	}

	st.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE payrail_saga.saga_steps
		SET status = $1, output = $2, error_data = $3, retry_count = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := ex.ExecContext(ctx, query,
		string(st.Status), output, errorData, st.RetryCount, st.UpdatedAt, st.ID,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByPaymentID returns the tenant's most recently started saga for a
// payment.
func (r *SagaRepository) FindByPaymentID(ctx context.Context, tenantID, paymentID string) (*saga.Saga, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM payrail_saga.sagas
		WHERE tenant_id = $1 AND payment_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`
	sg, err := scanSaga(r.db.QueryRowContext(ctx, query, tenantID, paymentID))
	if err != nil {
		return nil, err
	}
	steps, err := r.StepsBySagaID(ctx, sg.ID)
	if err != nil {
		return nil, err
	}
	sg.Steps = steps
	return sg, nil
}

// FindByCorrelationID returns the tenant's most recently started saga for
// a correlation ID.
func (r *SagaRepository) FindByCorrelationID(ctx context.Context, tenantID, correlationID string) (*saga.Saga, error) {
	query := `
		SELECT ` + sagaColumns + `
		FROM payrail_saga.sagas
		WHERE tenant_id = $1 AND correlation_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`
	sg, err := scanSaga(r.db.QueryRowContext(ctx, query, tenantID, correlationID))
	if err != nil {
		return nil, err
	}
	steps, err := r.StepsBySagaID(ctx, sg.ID)
	if err != nil {
		return nil, err
	}
	sg.Steps = steps
	return sg, nil
}

// FindStuckRunning returns IDs of RUNNING sagas whose running step has not
// been touched for at least idleFor. Used by the recovery sweeper.
func (r *SagaRepository) FindStuckRunning(ctx context.Context, idleFor time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().UTC().Add(-idleFor)
	query := `
		SELECT DISTINCT s.id
		FROM payrail_saga.sagas s
		JOIN payrail_saga.saga_steps st ON st.saga_id = s.id
		WHERE s.status = 'RUNNING' AND st.status = 'RUNNING' AND st.updated_at < $1
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck sagas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan saga id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck sagas: %w", err)
	}
	return ids, nil
}

// PurgeTerminal deletes terminal sagas older than the retention window,
// cascading to steps and events. Administrative use only.
func (r *SagaRepository) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const selector = `
		SELECT id FROM payrail_saga.sagas
		WHERE status IN ('COMPLETED', 'COMPENSATED', 'FAILED') AND started_at < $1
	`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM payrail_saga.saga_events WHERE saga_id IN (`+selector+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM payrail_saga.saga_steps WHERE saga_id IN (`+selector+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge steps: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM payrail_saga.sagas WHERE status IN ('COMPLETED', 'COMPENSATED', 'FAILED') AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sagas: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSaga(row rowScanner) (*saga.Saga, error) {
	var (
		sg           saga.Saga
		status       string
		paymentID    sql.NullString
		sagaData     []byte
		errorMessage sql.NullString
		completedAt  sql.NullTime
		failedAt     sql.NullTime
		compensated  sql.NullTime
		updatedBy    sql.NullString
	)
	err := row.Scan(
		&sg.ID, &sg.Name, &status, &sg.TenantID, &sg.BusinessUnitID, &sg.CorrelationID,
		&paymentID, &sagaData, &sg.CurrentStep, &errorMessage,
		&sg.StartedAt, &completedAt, &failedAt, &compensated,
		&sg.Version, &updatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan saga: %w", err)
	}
	sg.Status = saga.Status(status)
	sg.PaymentID = paymentID.String
	sg.ErrorMessage = errorMessage.String
	sg.UpdatedBy = updatedBy.String
	if completedAt.Valid {
		sg.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		sg.FailedAt = &failedAt.Time
	}
	if compensated.Valid {
		sg.CompensatedAt = &compensated.Time
	}
	if data, err := unmarshalData(sagaData); err == nil {
		sg.SagaData = data
	} else {
		return nil, err
	}
	return &sg, nil
}

func scanStep(row rowScanner) (*saga.Step, error) {
	var (
		st           saga.Step
		stepType     string
		status       string
		compEndpoint sql.NullString
		input        []byte
		output       []byte
		errorData    []byte
	)
	err := row.Scan(
		&st.ID, &st.SagaID, &st.Sequence, &st.Name, &stepType, &st.Service, &st.Endpoint,
		&compEndpoint, &input, &output, &errorData,
		&st.RetryCount, &st.MaxRetries, &status, &st.CreatedAt, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}
	st.Type = saga.StepType(stepType)
	st.Status = saga.StepStatus(status)
	st.CompensationEndpoint = compEndpoint.String
	if st.Input, err = unmarshalData(input); err != nil {
		return nil, err
	}
	if st.Output, err = unmarshalData(output); err != nil {
		return nil, err
	}
	if st.ErrorData, err = unmarshalData(errorData); err != nil {
		return nil, err
	}
	return &st, nil
}

func marshalData(d saga.Data) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	return b, nil
}

func unmarshalData(b []byte) (saga.Data, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var d saga.Data
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

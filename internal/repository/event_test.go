package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestEventInsertFillsGeneratedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewEventRepository(db)
	ev := &EventRecord{
		SagaID:         "saga-1",
		TenantID:       "tenant-1",
		BusinessUnitID: "bu-1",
		CorrelationID:  "corr-1",
		Type:           "STEP_COMPLETED",
		Payload:        json.RawMessage(`{"stepName":"debit"}`),
		OccurredAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery("INSERT INTO payrail_saga.saga_events").
		WithArgs(ev.SagaID, ev.TenantID, ev.BusinessUnitID, ev.CorrelationID,
			ev.Type, []byte(ev.Payload), ev.OccurredAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := repo.Insert(context.Background(), ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ev.ID != 42 {
		t.Errorf("ID = %d, want 42", ev.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListBySagaID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewEventRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "saga_id", "tenant_id", "business_unit_id", "correlation_id", "type", "payload", "occurred_at",
	}).
		AddRow(int64(1), "saga-1", "tenant-1", "bu-1", "corr-1", "SAGA_STARTED", []byte(`{}`), now).
		AddRow(int64(2), "saga-1", "tenant-1", "bu-1", "corr-1", "STEP_STARTED", []byte(`{"stepName":"validate"}`), now.Add(time.Second))

	mock.ExpectQuery("SELECT (.+) FROM payrail_saga.saga_events").
		WithArgs("saga-1").
		WillReturnRows(rows)

	events, err := repo.ListBySagaID(context.Background(), "saga-1")
	if err != nil {
		t.Fatalf("ListBySagaID: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != "SAGA_STARTED" || events[1].Type != "STEP_STARTED" {
		t.Errorf("types = %s, %s", events[0].Type, events[1].Type)
	}
	if string(events[1].Payload) != `{"stepName":"validate"}` {
		t.Errorf("payload = %s", events[1].Payload)
	}
}

func TestListByCorrelationIDEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewEventRepository(db)
	mock.ExpectQuery("SELECT (.+) FROM payrail_saga.saga_events").
		WithArgs("corr-none").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "saga_id", "tenant_id", "business_unit_id", "correlation_id", "type", "payload", "occurred_at",
		}))

	events, err := repo.ListByCorrelationID(context.Background(), "corr-none")
	if err != nil {
		t.Fatalf("ListByCorrelationID: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want empty", events)
	}
}

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guardrail-labs/trustgate/pkg/trust"
)

// The store surfaces driver errors to the caller; swallowing them is the
// tracker's job, not the store's.
func TestAppendConfidenceEventSurfacesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS confidence_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("unexpected migrate error: %s", err)
	}

	mock.ExpectExec("INSERT INTO confidence_events").
		WillReturnError(errors.New("disk I/O error"))

	ev := trust.Event{
		ID: "e1", AgentID: "bot1", Success: true,
		Before: 0.5, After: 0.6, RecordedAt: time.Now(),
	}
	if err := store.AppendConfidenceEvent(context.Background(), ev); err == nil {
		t.Error("expected insert error to propagate")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

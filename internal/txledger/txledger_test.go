package txledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTransaction_AdvanceValidPath(t *testing.T) {
	tx := New("client-1")
	if tx.Status != StatusNew || tx.Revision != 0 {
		t.Fatalf("unexpected initial state: %+v", tx)
	}
	if err := tx.Advance(StatusHedging); err != nil {
		t.Fatalf("New -> Hedging: %v", err)
	}
	if err := tx.Advance(StatusTrailing); err != nil {
		t.Fatalf("Hedging -> Trailing: %v", err)
	}
	if err := tx.Advance(StatusFinished); err != nil {
		t.Fatalf("Trailing -> Finished: %v", err)
	}
	if tx.Revision != 3 {
		t.Fatalf("expected revision 3 after three advances, got %d", tx.Revision)
	}
}

func TestTransaction_AdvanceRejectsSkippedState(t *testing.T) {
	tx := New("client-1")
	if err := tx.Advance(StatusFinished); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if tx.Status != StatusNew || tx.Revision != 0 {
		t.Fatal("rejected transition must not mutate the transaction")
	}
}

func TestTransaction_AddHedgeOrderBumpsRevision(t *testing.T) {
	tx := New("client-1")
	tx.AddHedgeOrder("hedge-1")
	tx.AddHedgeOrder("hedge-2")
	if len(tx.HedgeOrderIDs) != 2 || tx.Revision != 2 {
		t.Fatalf("unexpected state after AddHedgeOrder: %+v", tx)
	}
}

func TestStore_AppendAndLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	store := NewStore(db)
	tx := New("client-1")

	mock.ExpectExec("INSERT INTO transaction_events").
		WithArgs(tx.ID, 0, "orders", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Append(context.Background(), tx, "orders"); err != nil {
		t.Fatalf("Append revision 0: %v", err)
	}

	if err := tx.Advance(StatusHedging); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	mock.ExpectExec("INSERT INTO transaction_events").
		WithArgs(tx.ID, 1, "orders", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Append(context.Background(), tx, "orders"); err != nil {
		t.Fatalf("Append revision 1: %v", err)
	}

	rows := sqlmock.NewRows([]string{"revision", "payload"}).
		AddRow(0, `{"status":"NEW","targetOrderId":"client-1","hedgeOrderIds":null}`).
		AddRow(1, `{"status":"HEDGING","targetOrderId":"client-1","hedgeOrderIds":null}`)
	mock.ExpectQuery("SELECT revision, payload").WithArgs(tx.ID).WillReturnRows(rows)

	loaded, err := store.Load(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status != StatusHedging || loaded.Revision != 1 {
		t.Fatalf("unexpected replayed state: %+v", loaded)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_AppendRevisionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	store := NewStore(db)
	tx := New("client-1")

	mock.ExpectExec("INSERT INTO transaction_events").
		WithArgs(tx.ID, 0, "orders", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Append(context.Background(), tx, "orders"); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
}

func TestStore_LoadNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	store := NewStore(db)
	tx := New("client-1")

	rows := sqlmock.NewRows([]string{"revision", "payload"})
	mock.ExpectQuery("SELECT revision, payload").WithArgs(tx.ID).WillReturnRows(rows)

	if _, err := store.Load(context.Background(), tx.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

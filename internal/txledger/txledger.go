// Package txledger implements the higher-level Transaction (spec.md §3) and
// its append-only event store (SPEC_FULL.md §4.9): a Postgres table of
// (transaction_id, revision, table_name, payload) rows, written with
// INSERT ... ON CONFLICT DO NOTHING so a revision collision signals a
// concurrent writer lost the race and must retry with a fresh revision.
// Grounded on exchange-clearing/internal/repository.BalanceRepository's
// idempotency-key-guarded ledger insert (here: the (transaction_id, revision)
// pair is the idempotency key) and exchange-common/pkg/saga's SagaLog/
// SagaStore persisted-state-machine shape, generalized from a single saga
// state column to Transaction's New -> Hedging -> (Trailing|Timeout|StopLoss)
// -> Finished lifecycle.
package txledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Status is the transaction's lifecycle state (spec.md §3).
type Status string

const (
	StatusNew       Status = "NEW"
	StatusHedging   Status = "HEDGING"
	StatusTrailing  Status = "TRAILING"
	StatusTimeout   Status = "TIMEOUT"
	StatusStopLoss  Status = "STOP_LOSS"
	StatusFinished  Status = "FINISHED"
)

// validNext enumerates the allowed Status transitions (spec.md §3: "Status
// transitions New -> Hedging -> (Trailing | Timeout | StopLoss) -> Finished").
var validNext = map[Status]map[Status]bool{
	StatusNew:      {StatusHedging: true},
	StatusHedging:  {StatusTrailing: true, StatusTimeout: true, StatusStopLoss: true, StatusFinished: true},
	StatusTrailing: {StatusFinished: true},
	StatusTimeout:  {StatusFinished: true},
	StatusStopLoss: {StatusFinished: true},
}

// ErrInvalidTransition is returned by Transaction.Advance for a disallowed
// status change.
var ErrInvalidTransition = errors.New("txledger: invalid transaction status transition")

// ErrRevisionConflict is returned by Store.Append when another writer already
// wrote the next revision for this transaction.
var ErrRevisionConflict = errors.New("txledger: revision conflict, retry with a fresh revision")

// Transaction groups a target order and its hedging orders across exchanges
// (spec.md §3). Revision increments on every mutation; the full history is
// reconstructed by replaying the event stream a Store persists it to.
type Transaction struct {
	ID            uuid.UUID
	Status        Status
	Revision      int
	TargetOrderID string
	HedgeOrderIDs []string
}

// New creates a brand-new Transaction in status New at revision 0.
func New(targetOrderID string) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		Status:        StatusNew,
		Revision:      0,
		TargetOrderID: targetOrderID,
	}
}

// Advance moves the transaction to next, incrementing Revision, or returns
// ErrInvalidTransition without mutating state.
func (t *Transaction) Advance(next Status) error {
	allowed := validNext[t.Status]
	if !allowed[next] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.Revision++
	return nil
}

// AddHedgeOrder records a hedging order id and bumps the revision.
func (t *Transaction) AddHedgeOrder(clientOrderID string) {
	t.HedgeOrderIDs = append(t.HedgeOrderIDs, clientOrderID)
	t.Revision++
}

// snapshot is the JSON payload persisted per revision.
type snapshot struct {
	Status        Status   `json:"status"`
	TargetOrderID string   `json:"targetOrderId"`
	HedgeOrderIDs []string `json:"hedgeOrderIds"`
}

// Store is a Postgres-backed append-only event store for Transaction
// snapshots, keyed by transaction UUID (spec.md §6).
type Store struct {
	db *sql.DB
}

// NewStore wraps db as a transaction event store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append persists the transaction's current revision as a new event-table
// row. Returns ErrRevisionConflict if (transaction_id, revision) already
// exists — the caller lost a race with a concurrent writer and must recompute
// the transition against the latest state before retrying.
func (s *Store) Append(ctx context.Context, t *Transaction, tableName string) error {
	payload, err := json.Marshal(snapshot{
		Status:        t.Status,
		TargetOrderID: t.TargetOrderID,
		HedgeOrderIDs: t.HedgeOrderIDs,
	})
	if err != nil {
		return fmt.Errorf("txledger: marshal snapshot: %w", err)
	}

	const stmt = `
INSERT INTO transaction_events (transaction_id, revision, table_name, payload, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (transaction_id, revision) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, stmt, t.ID, t.Revision, tableName, payload)
	if err != nil {
		return fmt.Errorf("txledger: append: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("txledger: rows affected: %w", err)
	}
	if n == 0 {
		return ErrRevisionConflict
	}
	return nil
}

// Load replays every event for id in revision order and reconstructs the
// current Transaction state.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT revision, payload
FROM transaction_events
WHERE transaction_id = $1
ORDER BY revision ASC
`, id)
	if err != nil {
		return nil, fmt.Errorf("txledger: load: %w", err)
	}
	defer rows.Close()

	t := &Transaction{ID: id}
	found := false
	for rows.Next() {
		var revision int
		var payload []byte
		if err := rows.Scan(&revision, &payload); err != nil {
			return nil, fmt.Errorf("txledger: scan: %w", err)
		}
		var snap snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("txledger: unmarshal revision %d: %w", revision, err)
		}
		t.Status = snap.Status
		t.TargetOrderID = snap.TargetOrderID
		t.HedgeOrderIDs = snap.HedgeOrderIDs
		t.Revision = revision
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

// CreateTableSQL is the event-table schema the Store writes to.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS transaction_events (
  transaction_id UUID NOT NULL,
  revision INT NOT NULL,
  table_name TEXT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (transaction_id, revision)
);
`

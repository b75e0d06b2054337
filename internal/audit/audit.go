// Package audit provides an append-only log for order state transitions and
// reservation mutations, for later reconciliation review (SPEC_FULL.md §4.11);
// entries are written only by callers that invoke Log. Grounded on
// exchange-common/pkg/audit.DBLogger: an append-only Postgres table written
// through a bounded async queue so audit writes never block the order/
// reservation hot path, trimmed from that package's account/admin event
// taxonomy down to the order-lifecycle and reservation events this engine's
// core actually emits.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// EventType enumerates the audited mutations (spec.md §4.2 transitions and
// §4.3 reservation operations).
type EventType string

const (
	EventOrderCreated    EventType = "ORDER_CREATED"
	EventOrderCanceled   EventType = "ORDER_CANCELED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderCompleted  EventType = "ORDER_COMPLETED"
	EventReservationMade EventType = "RESERVATION_CREATED"
	EventReservationPart EventType = "RESERVATION_APPROVED_PART"
	EventReservationFree EventType = "RESERVATION_UNRESERVED"
	EventReservationUpd  EventType = "RESERVATION_PRICE_UPDATED"
)

// Entry is one audited mutation.
type Entry struct {
	ID        int64     `json:"id"`
	EventType EventType `json:"eventType"`
	AccountID string    `json:"accountId"`
	Subject   string    `json:"subject"` // client-order-id or reservation handle, stringified.
	Detail    string    `json:"detail"`  // JSON-encoded detail payload.
	Timestamp int64     `json:"timestamp"`
}

// NewEntry builds an Entry with Timestamp set to now (Unix millis).
func NewEntry(eventType EventType, accountID, subject string, detail map[string]interface{}) Entry {
	payload := "{}"
	if len(detail) > 0 {
		if b, err := json.Marshal(detail); err == nil {
			payload = string(b)
		}
	}
	return Entry{
		EventType: eventType,
		AccountID: accountID,
		Subject:   subject,
		Detail:    payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Logger persists Entries. Query supports the reconciliation review the
// entries exist for.
type Logger interface {
	Log(ctx context.Context, e Entry) error
	Query(ctx context.Context, accountID string, limit int) ([]Entry, error)
}

// DBLogger is a Postgres-backed Logger. Writes go through a bounded channel
// drained by background workers so Log never blocks the order/reservation
// hot path; a full queue drops the entry and reports it via onError rather
// than applying backpressure to the caller.
type DBLogger struct {
	db      *sql.DB
	queue   chan Entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	onError func(error)
}

// Option configures NewDBLogger.
type Option func(*options)

type options struct {
	queueSize int
	workers   int
	onError   func(error)
}

func WithQueueSize(n int) Option { return func(o *options) { if n > 0 { o.queueSize = n } } }

// WithWorkers sets the number of background drain workers, including zero
// (useful for tests that only exercise the synchronous Query path).
func WithWorkers(n int) Option { return func(o *options) { if n >= 0 { o.workers = n } } }
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// NewDBLogger constructs a DBLogger writing to db.
func NewDBLogger(db *sql.DB, opts ...Option) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("audit: db is nil")
	}
	cfg := options{queueSize: 4096, workers: 2, onError: func(error) {}}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &DBLogger{
		db:      db,
		queue:   make(chan Entry, cfg.queueSize),
		cancel:  cancel,
		onError: cfg.onError,
	}
	for i := 0; i < cfg.workers; i++ {
		l.wg.Add(1)
		go l.runWorker(ctx)
	}
	return l, nil
}

func (l *DBLogger) runWorker(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain what is still queued before exiting.
			for {
				select {
				case e := <-l.queue:
					if err := l.insert(context.Background(), e); err != nil {
						l.onError(err)
					}
				default:
					return
				}
			}
		case e := <-l.queue:
			if err := l.insert(context.Background(), e); err != nil {
				l.onError(err)
			}
		}
	}
}

// Close stops the background workers and waits for them to drain.
func (l *DBLogger) Close() {
	if l == nil {
		return
	}
	l.cancel()
	l.wg.Wait()
}

// Log enqueues e for asynchronous persistence. On a full queue the entry is
// dropped and reported via onError rather than blocking the caller.
func (l *DBLogger) Log(ctx context.Context, e Entry) error {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	select {
	case l.queue <- e:
	default:
		l.onError(errors.New("audit: queue full, entry dropped"))
	}
	return nil
}

func (l *DBLogger) insert(ctx context.Context, e Entry) error {
	const stmt = `
INSERT INTO engine_audit_log (event_type, account_id, subject, detail, timestamp)
VALUES ($1, $2, $3, $4, $5)
`
	_, err := l.db.ExecContext(ctx, stmt, e.EventType, e.AccountID, e.Subject, e.Detail, e.Timestamp)
	return err
}

// Query returns the most recent entries for an account, newest first.
func (l *DBLogger) Query(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, event_type, account_id, subject, detail, timestamp
FROM engine_audit_log
WHERE account_id = $1
ORDER BY timestamp DESC, id DESC
LIMIT $2
`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EventType, &e.AccountID, &e.Subject, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateTableSQL is the append-only schema backing DBLogger.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS engine_audit_log (
  id BIGSERIAL PRIMARY KEY,
  event_type VARCHAR(64) NOT NULL,
  account_id VARCHAR(128) NOT NULL DEFAULT '',
  subject VARCHAR(128) NOT NULL DEFAULT '',
  detail JSONB NOT NULL DEFAULT '{}'::jsonb,
  timestamp BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_audit_log_account_ts ON engine_audit_log(account_id, timestamp DESC);
`

// Package compensation tracks undoable effects behind forwarded calls and
// drives their rollback. Every reversible call registers a compensation
// entry with a deadline; expiry is lazy (no timers) and compensation is
// single-writer-wins under concurrent requests.
package compensation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status of a compensation entry.
type Status string

const (
	StatusOpen        Status = "open"
	StatusCompensated Status = "compensated"
	StatusExpired     Status = "expired"
)

// Entry is one registered undoable effect.
type Entry struct {
	TransactionID string    `json:"transaction_id"`
	AgentID       string    `json:"agent_id"`
	TraceID       string    `json:"trace_id"`
	Target        string    `json:"target"`
	CreatedAt     time.Time `json:"created_at"`
	UndoDeadline  time.Time `json:"undo_deadline"`
	Status        Status    `json:"status"`
}

// Result of a compensation attempt on a single entry.
type Result string

const (
	ResultCompensated        Result = "compensated"
	ResultAlreadyCompensated Result = "already_compensated"
	ResultExpired            Result = "expired"
	ResultNotFound           Result = "not_found"
	ResultFailed             Result = "failed"
)

var ErrNotFound = errors.New("compensation: transaction not found")

// Invoker executes the actual undo against the target agent.
// Implemented by the sidecar's HTTP forwarder; swapped for a fake in tests.
type Invoker interface {
	Compensate(ctx context.Context, target, transactionID string) error
}

// Store persists compensation entries and saga membership in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (or creates) the compensation database at path and runs
// migrations. The pool is capped at one connection: the file is the unit
// of concurrency control, not the pool.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("compensation: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("compensation: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS compensation_entries (
    transaction_id TEXT PRIMARY KEY,
    agent_id       TEXT NOT NULL,
    trace_id       TEXT NOT NULL,
    target         TEXT NOT NULL,
    created_at     INTEGER NOT NULL,
    undo_deadline  INTEGER NOT NULL,
    status         TEXT NOT NULL DEFAULT 'open'
);
CREATE TABLE IF NOT EXISTS saga_hops (
    saga_id        TEXT NOT NULL,
    hop_order      INTEGER NOT NULL,
    transaction_id TEXT NOT NULL,
    PRIMARY KEY (saga_id, hop_order)
);
CREATE INDEX IF NOT EXISTS idx_saga_hops_saga ON saga_hops(saga_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("compensation: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register records a new open compensation entry and returns its
// transaction id. undoWindow bounds how long the effect stays undoable.
func (s *Store) Register(ctx context.Context, agentID, traceID, target string, undoWindow time.Duration) (Entry, error) {
	now := s.now().UTC()
	e := Entry{
		TransactionID: uuid.NewString(),
		AgentID:       agentID,
		TraceID:       traceID,
		Target:        target,
		CreatedAt:     now,
		UndoDeadline:  now.Add(undoWindow),
		Status:        StatusOpen,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO compensation_entries
		   (transaction_id, agent_id, trace_id, target, created_at, undo_deadline, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TransactionID, e.AgentID, e.TraceID, e.Target,
		e.CreatedAt.UnixMilli(), e.UndoDeadline.UnixMilli(), string(e.Status))
	if err != nil {
		return Entry{}, fmt.Errorf("compensation: register: %w", err)
	}
	return e, nil
}

// Get returns an entry by transaction id, lazily expiring it first.
func (s *Store) Get(ctx context.Context, transactionID string) (Entry, error) {
	if err := s.expire(ctx, transactionID); err != nil {
		return Entry{}, err
	}
	return s.load(ctx, transactionID)
}

func (s *Store) load(ctx context.Context, transactionID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT transaction_id, agent_id, trace_id, target, created_at, undo_deadline, status
		   FROM compensation_entries WHERE transaction_id = ?`, transactionID)

	var e Entry
	var created, deadline int64
	var status string
	err := row.Scan(&e.TransactionID, &e.AgentID, &e.TraceID, &e.Target, &created, &deadline, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("compensation: load: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UndoDeadline = time.UnixMilli(deadline).UTC()
	e.Status = Status(status)
	return e, nil
}

// expire flips an open entry to expired if its deadline has passed.
// Expiry is evaluated on access; nothing runs on a timer.
func (s *Store) expire(ctx context.Context, transactionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE compensation_entries SET status = 'expired'
		  WHERE transaction_id = ? AND status = 'open' AND undo_deadline <= ?`,
		transactionID, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("compensation: expire: %w", err)
	}
	return nil
}

// Compensate attempts to roll back one transaction. Exactly one concurrent
// caller wins the claim (conditional UPDATE on status='open'); everyone
// else learns the terminal status. The undo endpoint is invoked only by
// the winner, and only while the deadline holds. If the invocation fails
// the claim is released so a retry can succeed.
func (s *Store) Compensate(ctx context.Context, transactionID string, inv Invoker) (Result, error) {
	if err := s.expire(ctx, transactionID); err != nil {
		return ResultFailed, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE compensation_entries SET status = 'compensated'
		  WHERE transaction_id = ? AND status = 'open' AND undo_deadline > ?`,
		transactionID, s.now().UTC().UnixMilli())
	if err != nil {
		return ResultFailed, fmt.Errorf("compensation: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ResultFailed, fmt.Errorf("compensation: claim: %w", err)
	}

	if n == 0 {
		// Lost the claim: report why.
		e, err := s.load(ctx, transactionID)
		if errors.Is(err, ErrNotFound) {
			return ResultNotFound, nil
		}
		if err != nil {
			return ResultFailed, err
		}
		switch e.Status {
		case StatusCompensated:
			return ResultAlreadyCompensated, nil
		case StatusExpired:
			return ResultExpired, nil
		default:
			return ResultFailed, fmt.Errorf("compensation: unexpected status %q after lost claim", e.Status)
		}
	}

	e, err := s.load(ctx, transactionID)
	if err != nil {
		return ResultFailed, err
	}
	if err := inv.Compensate(ctx, e.Target, transactionID); err != nil {
		// Release the claim so the entry stays undoable.
		if _, rerr := s.db.ExecContext(ctx,
			`UPDATE compensation_entries SET status = 'open' WHERE transaction_id = ?`,
			transactionID); rerr != nil {
			return ResultFailed, fmt.Errorf("compensation: release after invoke failure: %v (invoke: %w)", rerr, err)
		}
		return ResultFailed, fmt.Errorf("compensation: invoke undo: %w", err)
	}
	return ResultCompensated, nil
}

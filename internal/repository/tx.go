package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DB wraps the sqlx handle and is the entry point for all issue storage.
type DB struct {
	db *sqlx.DB
}

// NewDB creates the storage layer over an open sqlx handle.
func NewDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Tx is one write transaction over the issue collections. Callbacks queued
// with OnCommit run only after the underlying COMMIT succeeds; a rollback
// discards them. This keeps post-commit work (notifications) from firing for
// changes the database may still throw away.
type Tx struct {
	tx          *sqlx.Tx
	afterCommit []func()
}

// OnCommit queues fn to run after the transaction commits successfully.
func (t *Tx) OnCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// InTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics; otherwise it is committed and the queued
// post-commit callbacks are drained in order.
func (d *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlxTx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	tx := &Tx{tx: sqlxTx}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlxTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlxTx.Rollback()
		return err
	}

	if err := sqlxTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

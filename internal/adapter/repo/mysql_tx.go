package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

type txKey struct{}

// dbtx is what *sql.DB and *sql.Tx have in common.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or db.
func conn(ctx context.Context, db *sql.DB) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// Read committed so that reads after a FOR UPDATE see the latest commit.
var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// inTx runs fn in the transaction carried by ctx, or in a new one.
func inTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q dbtx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}
	tx, err := db.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}
	return tx.Commit()
}

type MySQLTxManager struct{ db *sql.DB }

func NewMySQLTxManager(db *sql.DB) *MySQLTxManager { return &MySQLTxManager{db: db} }

func (m *MySQLTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return inTx(ctx, m.db, func(ctx context.Context, _ dbtx) error { return fn(ctx) })
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

var _ usecase.TxManager = (*MySQLTxManager)(nil)

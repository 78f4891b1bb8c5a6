// Package dbx holds the database plumbing shared by the SQLite client store
// and the PostgreSQL repositories: the DBTX handle both *sql.DB and *sql.Tx
// satisfy, and WithTx, which backs every multi-row write that must be atomic.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRowCount is returned by ExpectRows when a statement touched a different
// number of rows than the caller required.
var ErrRowCount = errors.New("dbx: unexpected number of affected rows")

// DBTX is the subset of database/sql used by the repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back when fn returns an error or panics; panics are rethrown.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := users.UpdateSalt(ctx, tx, id, salt); err != nil {
//	        return err
//	    }
//	    return vars.ReplaceAll(ctx, tx, id, rows)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

// ExpectRows fails with ErrRowCount unless res affected exactly want rows.
func ExpectRows(res sql.Result, want int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("%w: got %d, want %d", ErrRowCount, n, want)
	}
	return nil
}

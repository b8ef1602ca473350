package store

import (
	"context"
	"database/sql"

	"clausewise.app/analyzer/core/db"
)

// StoreProvider exposes the stores bound to one connection or transaction.
type StoreProvider interface {
	Documents() DocumentStore
	AnalysisRuns() AnalysisRunStore
	Profiles() ProfileStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(NewStores(tx))
	})
}

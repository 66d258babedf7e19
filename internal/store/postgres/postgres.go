// Package postgres implements store.Store on PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/store"
)

//go:embed schema.sql
var schema string

// Store runs every unit of work in a READ COMMITTED transaction.
// Rows that guard an invariant are read with SELECT ... FOR UPDATE.
type Store struct {
	db *sql.DB
}

// New creates a new postgres store
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates missing tables and indexes
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&repo{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// repo implements store.Tx on one open transaction
type repo struct {
	tx *sql.Tx
}

var _ store.Tx = (*repo)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// wrap maps driver errors onto store errors
func wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("failed to %s: %w", op, store.ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", op, store.ErrStaleState)
	}
	return nil
}

func toMoney(amount int64, currency string) money.Money {
	return money.New(amount, money.Currency(currency))
}

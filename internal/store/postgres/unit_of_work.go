package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepeers/settlement/internal/domain"
)

// UnitOfWork implements domain.UnitOfWork with one pgx transaction per call.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork creates a UnitOfWork backed by the given connection pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// txStores binds every store to the same pgx.Tx. GetByID is ambiguous
// between the embedded stores and is deliberately not part of domain.Tx.
type txStores struct {
	*ContestStore
	*PropStore
	*LedgerStore
	*AuditStore
}

func newTxStores(tx pgx.Tx) *txStores {
	return &txStores{
		ContestStore: &ContestStore{q: tx},
		PropStore:    &PropStore{q: tx},
		LedgerStore:  &LedgerStore{q: tx},
		AuditStore:   &AuditStore{q: tx},
	}
}

// WithinTx begins a read-committed transaction, runs fn and commits when fn
// returns nil. Row locks taken by fn are held until commit or rollback.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, newTxStores(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.UnitOfWork = (*UnitOfWork)(nil)
	_ domain.Tx         = (*txStores)(nil)
)

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepeers/settlement/internal/domain"
)

// LedgerStore implements domain.LedgerStore and domain.Ledger. Balance
// changes are single-statement upserts, so concurrent credits to one
// account never lose an update.
type LedgerStore struct {
	q querier
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{q: pool}
}

// Credit adds e.Amount to the user's balance and appends a ledger row.
func (s *LedgerStore) Credit(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.Amount < 0 {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: credit negative amount %s", e.Amount)
	}

	const query = `
		INSERT INTO accounts (user_id, currency, balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, currency) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()
		RETURNING balance`

	var balance int64
	if err := s.q.QueryRow(ctx, query, e.UserID, string(e.Currency), int64(e.Amount)).Scan(&balance); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: credit %s %s: %w", e.UserID, e.Currency, err)
	}
	e.BalanceAfter = domain.Amount(balance)
	return s.appendEntry(ctx, e)
}

// Debit subtracts e.Amount from the user's balance. A missing account or a
// balance below the amount yields domain.ErrInsufficientFunds.
func (s *LedgerStore) Debit(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.Amount < 0 {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: debit negative amount %s", e.Amount)
	}

	const query = `
		UPDATE accounts SET balance = balance - $3, updated_at = NOW()
		WHERE user_id = $1 AND currency = $2 AND balance >= $3
		RETURNING balance`

	var balance int64
	err := s.q.QueryRow(ctx, query, e.UserID, string(e.Currency), int64(e.Amount)).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrInsufficientFunds
		}
		return domain.LedgerEntry{}, fmt.Errorf("postgres: debit %s %s: %w", e.UserID, e.Currency, err)
	}
	e.Amount = -e.Amount
	e.BalanceAfter = domain.Amount(balance)
	return s.appendEntry(ctx, e)
}

func (s *LedgerStore) appendEntry(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO ledger_entries (id, user_id, currency, amount, kind, contest_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.q.Exec(ctx, query,
		e.ID, e.UserID, string(e.Currency), int64(e.Amount), string(e.Kind),
		e.ContestID, int64(e.BalanceAfter), e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.LedgerEntry{}, fmt.Errorf("postgres: %s for %s in %s already booked: %w", e.Kind, e.UserID, e.ContestID, domain.ErrConflict)
		}
		return domain.LedgerEntry{}, fmt.Errorf("postgres: append ledger entry: %w", err)
	}
	return e, nil
}

// Balances returns every account the user holds.
func (s *LedgerStore) Balances(ctx context.Context, userID string) ([]domain.Account, error) {
	rows, err := s.q.Query(ctx,
		`SELECT user_id, currency, balance, updated_at FROM accounts WHERE user_id = $1 ORDER BY currency`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		var currency string
		var balance int64
		if err := rows.Scan(&a.UserID, &currency, &balance, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		a.Currency = domain.Currency(currency)
		a.Balance = domain.Amount(balance)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return out, nil
}

// ListUnarchived returns ledger rows created before the cutoff that have
// not been exported yet, oldest first.
func (s *LedgerStore) ListUnarchived(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, user_id, currency, amount, kind, contest_id, balance_after, created_at
		FROM ledger_entries
		WHERE archived_at IS NULL AND created_at < $1
		ORDER BY created_at, id`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var currency, kind string
		var amount, after int64
		if err := rows.Scan(&e.ID, &e.UserID, &currency, &amount, &kind, &e.ContestID, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Currency = domain.Currency(currency)
		e.Kind = domain.LedgerKind(kind)
		e.Amount = domain.Amount(amount)
		e.BalanceAfter = domain.Amount(after)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unarchived ledger rows: %w", err)
	}
	return out, nil
}

// MarkArchived stamps exported ledger rows. Rows are never deleted.
func (s *LedgerStore) MarkArchived(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.q.Exec(ctx, `UPDATE ledger_entries SET archived_at = $2 WHERE id = ANY($1)`, ids, at); err != nil {
		return fmt.Errorf("postgres: mark ledger archived: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore = (*LedgerStore)(nil)
	_ domain.Ledger      = (*LedgerStore)(nil)
)

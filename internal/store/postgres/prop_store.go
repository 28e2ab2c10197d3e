package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepeers/settlement/internal/domain"
)

// PropStore implements domain.PropStore and the prop parts of domain.Tx.
type PropStore struct {
	q querier
}

// NewPropStore creates a new PropStore backed by the given connection pool.
func NewPropStore(pool *pgxpool.Pool) *PropStore {
	return &PropStore{q: pool}
}

const propCols = `id, fight_id, subject, category, line, outcome_value, override, resolved_at, created_at`

func scanProp(row pgx.Row) (domain.Prop, error) {
	var p domain.Prop
	var override string
	if err := row.Scan(
		&p.ID, &p.FightID, &p.Subject, &p.Category, &p.Line,
		&p.OutcomeValue, &override, &p.ResolvedAt, &p.CreatedAt,
	); err != nil {
		return domain.Prop{}, err
	}
	p.Override = domain.Override(override)
	return p, nil
}

// GetByID retrieves a prop by its primary key.
func (s *PropStore) GetByID(ctx context.Context, id string) (domain.Prop, error) {
	p, err := scanProp(s.q.QueryRow(ctx, `SELECT `+propCols+` FROM props WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prop{}, domain.ErrNotFound
		}
		return domain.Prop{}, fmt.Errorf("postgres: get prop %s: %w", id, err)
	}
	return p, nil
}

// LockProp reads a prop with SELECT ... FOR UPDATE.
func (s *PropStore) LockProp(ctx context.Context, id string) (domain.Prop, error) {
	p, err := scanProp(s.q.QueryRow(ctx, `SELECT `+propCols+` FROM props WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prop{}, domain.ErrNotFound
		}
		return domain.Prop{}, fmt.Errorf("postgres: lock prop %s: %w", id, err)
	}
	return p, nil
}

// GetMany returns the props with the given IDs keyed by ID. Unknown IDs are
// absent from the map.
func (s *PropStore) GetMany(ctx context.Context, ids []string) (map[string]domain.Prop, error) {
	out := make(map[string]domain.Prop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.q.Query(ctx, `SELECT `+propCols+` FROM props WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get props: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProp(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prop: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get props rows: %w", err)
	}
	return out, nil
}

// GetProps is GetMany under the name domain.Tx uses.
func (s *PropStore) GetProps(ctx context.Context, ids []string) (map[string]domain.Prop, error) {
	return s.GetMany(ctx, ids)
}

// InsertProp creates a prop.
func (s *PropStore) InsertProp(ctx context.Context, p domain.Prop) error {
	const query = `
		INSERT INTO props (id, fight_id, subject, category, line, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.q.Exec(ctx, query, p.ID, p.FightID, p.Subject, p.Category, p.Line, p.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert prop %s: %w", p.ID, err)
	}
	return nil
}

// SavePropOutcome records the authoritative outcome and override tag.
func (s *PropStore) SavePropOutcome(ctx context.Context, p domain.Prop) error {
	const query = `
		UPDATE props SET outcome_value = $2, override = $3, resolved_at = $4
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query, p.ID, p.OutcomeValue, string(p.Override), p.ResolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: save prop outcome %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PropSettled reports whether a settled contest holds a pick on the prop.
func (s *PropStore) PropSettled(ctx context.Context, propID string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM picks p
			JOIN entries e ON e.id = p.entry_id
			JOIN contests c ON c.id = e.contest_id
			WHERE p.prop_id = $1 AND c.admin_status = 'settled'
		)`

	var settled bool
	if err := s.q.QueryRow(ctx, query, propID).Scan(&settled); err != nil {
		return false, fmt.Errorf("postgres: check prop settled %s: %w", propID, err)
	}
	return settled, nil
}

// Compile-time interface check.
var _ domain.PropStore = (*PropStore)(nil)

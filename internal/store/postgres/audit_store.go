package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepeers/settlement/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	q querier
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{q: pool}
}

// Log appends a new audit entry. The detail map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, entry domain.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, actor_id, contest_id, detail) VALUES ($1, $2, $3, $4)`
	if _, err := s.q.Exec(ctx, query, entry.Event, entry.ActorID, entry.ContestID, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", entry.Event, err)
	}
	return nil
}

// AppendAudit is Log under the name domain.Tx uses.
func (s *AuditStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	return s.Log(ctx, entry)
}

// List returns audit entries with pagination and optional time filtering.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, "", opts)
}

// ListByContest returns the audit trail of one contest.
func (s *AuditStore) ListByContest(ctx context.Context, contestID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.list(ctx, contestID, opts)
}

func (s *AuditStore) list(ctx context.Context, contestID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, actor_id, contest_id, detail, created_at FROM audit_log WHERE 1=1`
	args := []any{}
	argIdx := 1

	if contestID != "" {
		query += fmt.Sprintf(" AND contest_id = $%d", argIdx)
		args = append(args, contestID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &e.Event, &e.ActorID, &e.ContestID, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepeers/settlement/internal/domain"
)

// ContestStore implements domain.ContestStore and the contest, entry and
// closure parts of domain.Tx.
type ContestStore struct {
	q querier
}

// NewContestStore creates a new ContestStore backed by the given connection pool.
func NewContestStore(pool *pgxpool.Pool) *ContestStore {
	return &ContestStore{q: pool}
}

const contestCols = `id, title, currency, entry_fee, processing_fee, prize_pool,
	max_players, event_starts_at, prop_ids, admin_status, player_status,
	settled_at, settled_by, refund_reason, refunded_by, refunded_at,
	created_at, updated_at`

func scanContest(row pgx.Row) (domain.Contest, error) {
	var c domain.Contest
	var currency, adminStatus, playerStatus string
	var entryFee, processingFee, prizePool int64
	err := row.Scan(
		&c.ID, &c.Title, &currency, &entryFee, &processingFee, &prizePool,
		&c.MaxPlayers, &c.EventStartsAt, &c.PropIDs, &adminStatus, &playerStatus,
		&c.SettledAt, &c.SettledBy, &c.RefundReason, &c.RefundedBy, &c.RefundedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Contest{}, err
	}
	c.Currency = domain.Currency(currency)
	c.EntryFee = domain.Amount(entryFee)
	c.ProcessingFee = domain.Amount(processingFee)
	c.PrizePool = domain.Amount(prizePool)
	c.AdminStatus = domain.AdminStatus(adminStatus)
	c.PlayerStatus = domain.PlayerStatus(playerStatus)
	return c, nil
}

// GetByID retrieves a contest by its primary key.
func (s *ContestStore) GetByID(ctx context.Context, id string) (domain.Contest, error) {
	c, err := scanContest(s.q.QueryRow(ctx, `SELECT `+contestCols+` FROM contests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contest{}, domain.ErrNotFound
		}
		return domain.Contest{}, fmt.Errorf("postgres: get contest %s: %w", id, err)
	}
	return c, nil
}

// LockContest reads the contest with SELECT ... FOR UPDATE. Callers must be
// inside a transaction.
func (s *ContestStore) LockContest(ctx context.Context, id string) (domain.Contest, error) {
	c, err := scanContest(s.q.QueryRow(ctx, `SELECT `+contestCols+` FROM contests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contest{}, domain.ErrNotFound
		}
		return domain.Contest{}, fmt.Errorf("postgres: lock contest %s: %w", id, err)
	}
	return c, nil
}

// InsertContest creates a contest row.
func (s *ContestStore) InsertContest(ctx context.Context, c domain.Contest) error {
	const query = `
		INSERT INTO contests (
			id, title, currency, entry_fee, processing_fee, prize_pool,
			max_players, event_starts_at, prop_ids, admin_status, player_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	propIDs := c.PropIDs
	if propIDs == nil {
		propIDs = []string{}
	}
	_, err := s.q.Exec(ctx, query,
		c.ID, c.Title, string(c.Currency), int64(c.EntryFee), int64(c.ProcessingFee), int64(c.PrizePool),
		c.MaxPlayers, c.EventStartsAt, propIDs, string(c.AdminStatus), string(c.PlayerStatus),
		c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert contest %s: %w", c.ID, err)
	}
	return nil
}

// SaveContest persists the mutable contest fields: pool, lifecycle state and
// the settlement and refund audit columns.
func (s *ContestStore) SaveContest(ctx context.Context, c domain.Contest) error {
	const query = `
		UPDATE contests SET
			prize_pool    = $2,
			admin_status  = $3,
			player_status = $4,
			settled_at    = $5,
			settled_by    = $6,
			refund_reason = $7,
			refunded_by   = $8,
			refunded_at   = $9,
			updated_at    = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		c.ID, int64(c.PrizePool), string(c.AdminStatus), string(c.PlayerStatus),
		c.SettledAt, c.SettledBy, c.RefundReason, c.RefundedBy, c.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save contest %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDue returns available or ready contests whose event has started.
func (s *ContestStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Contest, error) {
	query := `SELECT ` + contestCols + ` FROM contests
		WHERE admin_status IN ('available', 'ready') AND event_starts_at <= $1
		ORDER BY event_starts_at, id`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due contests: %w", err)
	}
	defer rows.Close()

	var out []domain.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan due contest: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due contests rows: %w", err)
	}
	return out, nil
}

// ListEntries returns every entry of a contest in entry ID order, each with
// its picks in submission order.
func (s *ContestStore) ListEntries(ctx context.Context, contestID string) ([]domain.Entry, error) {
	const entryQuery = `
		SELECT id, contest_id, user_id, score, rank, prize, winner_status, created_at
		FROM entries WHERE contest_id = $1 ORDER BY id`

	rows, err := s.q.Query(ctx, entryQuery, contestID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries %s: %w", contestID, err)
	}
	defer rows.Close()

	var entries []domain.Entry
	index := map[string]int{}
	for rows.Next() {
		var e domain.Entry
		var prize int64
		var status string
		if err := rows.Scan(&e.ID, &e.ContestID, &e.UserID, &e.Score, &e.Rank, &prize, &status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Prize = domain.Amount(prize)
		e.WinnerStatus = domain.WinnerStatus(status)
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list entries rows: %w", err)
	}
	rows.Close()

	const pickQuery = `
		SELECT p.id, p.entry_id, p.prop_id, p.direction, p.result, p.points
		FROM picks p JOIN entries e ON e.id = p.entry_id
		WHERE e.contest_id = $1
		ORDER BY p.entry_id, p.position`

	pickRows, err := s.q.Query(ctx, pickQuery, contestID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list picks %s: %w", contestID, err)
	}
	defer pickRows.Close()

	for pickRows.Next() {
		var p domain.Pick
		var direction, result string
		if err := pickRows.Scan(&p.ID, &p.EntryID, &p.PropID, &direction, &result, &p.Points); err != nil {
			return nil, fmt.Errorf("postgres: scan pick: %w", err)
		}
		p.Direction = domain.Direction(direction)
		p.Result = domain.PickResult(result)
		if i, ok := index[p.EntryID]; ok {
			entries[i].Picks = append(entries[i].Picks, p)
		}
	}
	if err := pickRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list picks rows: %w", err)
	}
	return entries, nil
}

// HasEntry reports whether the user already joined the contest.
func (s *ContestStore) HasEntry(ctx context.Context, contestID, userID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM entries WHERE contest_id = $1 AND user_id = $2)`,
		contestID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check entry %s/%s: %w", contestID, userID, err)
	}
	return exists, nil
}

// InsertEntry writes an entry and its picks.
func (s *ContestStore) InsertEntry(ctx context.Context, e domain.Entry) error {
	const entryQuery = `
		INSERT INTO entries (id, contest_id, user_id, winner_status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.q.Exec(ctx, entryQuery, e.ID, e.ContestID, e.UserID, string(domain.NotWinner), e.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert entry %s: %w", e.ID, err)
	}

	const pickQuery = `
		INSERT INTO picks (id, entry_id, prop_id, position, direction, result, points)
		VALUES ($1, $2, $3, $4, $5, $6, 0)`

	batch := &pgx.Batch{}
	for i, p := range e.Picks {
		batch.Queue(pickQuery, p.ID, e.ID, p.PropID, i, string(p.Direction), string(domain.PickPending))
	}
	return s.execBatch(ctx, batch, len(e.Picks), "insert pick")
}

// SavePickResults persists the resolved result and points of each pick.
func (s *ContestStore) SavePickResults(ctx context.Context, picks []domain.Pick) error {
	batch := &pgx.Batch{}
	for _, p := range picks {
		batch.Queue(`UPDATE picks SET result = $2, points = $3 WHERE id = $1`, p.ID, string(p.Result), p.Points)
	}
	return s.execBatch(ctx, batch, len(picks), "save pick result")
}

// SaveEntryResults persists score, rank, prize and winner status.
func (s *ContestStore) SaveEntryResults(ctx context.Context, entries []domain.Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`UPDATE entries SET score = $2, rank = $3, prize = $4, winner_status = $5 WHERE id = $1`,
			e.ID, e.Score, e.Rank, int64(e.Prize), string(e.WinnerStatus),
		)
	}
	return s.execBatch(ctx, batch, len(entries), "save entry result")
}

func (s *ContestStore) execBatch(ctx context.Context, batch *pgx.Batch, n int, what string) error {
	if n == 0 {
		return nil
	}
	br := s.q.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: %s batch item %d: %w", what, i, err)
		}
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return fmt.Errorf("postgres: %s batch item %d: %w", what, i, domain.ErrNotFound)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: %s batch: %w", what, err)
	}
	return nil
}

// GetClosure returns the committed settlement or refund of a contest.
func (s *ContestStore) GetClosure(ctx context.Context, contestID string) (domain.Closure, error) {
	const query = `
		SELECT contest_id, kind, mode, winner_ids, void, payouts, total,
			prize_pool, currency, reason, actor_id, closed_at
		FROM contest_closures WHERE contest_id = $1`

	var c domain.Closure
	var kind, mode, currency string
	var total, pool int64
	var payouts []byte
	err := s.q.QueryRow(ctx, query, contestID).Scan(
		&c.ContestID, &kind, &mode, &c.WinnerIDs, &c.Void, &payouts, &total,
		&pool, &currency, &c.Reason, &c.ActorID, &c.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Closure{}, domain.ErrNotFound
		}
		return domain.Closure{}, fmt.Errorf("postgres: get closure %s: %w", contestID, err)
	}
	if err := json.Unmarshal(payouts, &c.Payouts); err != nil {
		return domain.Closure{}, fmt.Errorf("postgres: unmarshal closure payouts %s: %w", contestID, err)
	}
	c.Kind = domain.ClosureKind(kind)
	c.Mode = domain.SelectionMode(mode)
	c.Total = domain.Amount(total)
	c.PrizePool = domain.Amount(pool)
	c.Currency = domain.Currency(currency)
	return c, nil
}

// InsertClosure records the contest's settlement or refund. The primary key
// on contest_id turns a second closure into domain.ErrConflict.
func (s *ContestStore) InsertClosure(ctx context.Context, c domain.Closure) error {
	payouts, err := json.Marshal(c.Payouts)
	if err != nil {
		return fmt.Errorf("postgres: marshal closure payouts: %w", err)
	}
	winners := c.WinnerIDs
	if winners == nil {
		winners = []string{}
	}

	const query = `
		INSERT INTO contest_closures (
			contest_id, kind, mode, winner_ids, void, payouts, total,
			prize_pool, currency, reason, actor_id, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.q.Exec(ctx, query,
		c.ContestID, string(c.Kind), string(c.Mode), winners, c.Void, payouts, int64(c.Total),
		int64(c.PrizePool), string(c.Currency), c.Reason, c.ActorID, c.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: contest %s already closed: %w", c.ContestID, domain.ErrConflict)
		}
		return fmt.Errorf("postgres: insert closure %s: %w", c.ContestID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ContestStore = (*ContestStore)(nil)

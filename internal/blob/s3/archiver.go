package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scorepeers/settlement/internal/domain"
)

const defaultArchiveBatch = 5000

var _ domain.Archiver = (*LedgerArchiver)(nil)

// LedgerArchiver copies old ledger rows to JSONL objects and then marks them
// archived. Rows are never deleted from Postgres here.
type LedgerArchiver struct {
	ledger domain.LedgerStore
	writer domain.BlobWriter
	audit  domain.AuditStore
	batch  int
	now    func() time.Time
}

// NewLedgerArchiver creates a LedgerArchiver that uploads ledger rows in
// pages of batch. A non-positive batch uses the default.
func NewLedgerArchiver(ledger domain.LedgerStore, writer domain.BlobWriter, audit domain.AuditStore, batch int) *LedgerArchiver {
	if batch <= 0 {
		batch = defaultArchiveBatch
	}
	return &LedgerArchiver{
		ledger: ledger,
		writer: writer,
		audit:  audit,
		batch:  batch,
		now:    time.Now,
	}
}

type ledgerRow struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Currency     domain.Currency   `json:"currency"`
	Amount       domain.Amount     `json:"amount"`
	Kind         domain.LedgerKind `json:"kind"`
	ContestID    string            `json:"contest_id"`
	BalanceAfter domain.Amount     `json:"balance_after"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ArchiveLedger uploads every unarchived row created before the cutoff, one
// object per batch, and returns how many rows were archived. A batch is only
// marked archived after its upload succeeds, so a failed run is retried in
// full next time.
func (a *LedgerArchiver) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		rows, err := a.ledger.ListUnarchived(ctx, before, a.batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: list ledger: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		data, err := marshalJSONL(rows, func(e domain.LedgerEntry) ledgerRow {
			return ledgerRow{
				ID:           e.ID,
				UserID:       e.UserID,
				Currency:     e.Currency,
				Amount:       e.Amount,
				Kind:         e.Kind,
				ContestID:    e.ContestID,
				BalanceAfter: e.BalanceAfter,
				CreatedAt:    e.CreatedAt.UTC(),
			}
		})
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal ledger: %w", err)
		}

		path := archivePath(before, rows[0].ID)
		if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize); err != nil {
			return total, err
		}

		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		if err := a.ledger.MarkArchived(ctx, ids, a.now()); err != nil {
			return total, fmt.Errorf("s3blob: mark archived: %w", err)
		}
		total += int64(len(rows))

		if a.audit != nil {
			_ = a.audit.Log(ctx, domain.AuditEntry{
				Event:   "ledger.archived",
				ActorID: domain.SystemActor,
				Detail: map[string]any{
					"path":   path,
					"rows":   len(rows),
					"before": before.UTC().Format(time.RFC3339),
				},
			})
		}

		if len(rows) < a.batch {
			break
		}
	}
	return total, nil
}

// archivePath is archive/ledger/YYYY/MM/DD/{first_id}.jsonl.
func archivePath(before time.Time, firstID string) string {
	return fmt.Sprintf("archive/ledger/%s/%s.jsonl", before.UTC().Format("2006/01/02"), firstID)
}

func marshalJSONL[T, R any](items []T, conv func(T) R) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(conv(item)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ContestStore serves committed contest state outside a transaction.
type ContestStore interface {
	GetByID(ctx context.Context, id string) (Contest, error)
	ListEntries(ctx context.Context, contestID string) ([]Entry, error)
	GetClosure(ctx context.Context, contestID string) (Closure, error)
	// ListDue returns open contests whose event start is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Contest, error)
}

// PropStore serves props outside a transaction.
type PropStore interface {
	GetByID(ctx context.Context, id string) (Prop, error)
	GetMany(ctx context.Context, ids []string) (map[string]Prop, error)
}

// LedgerStore reads balances and ledger history.
type LedgerStore interface {
	Balances(ctx context.Context, userID string) ([]Account, error)
	ListUnarchived(ctx context.Context, before time.Time, limit int) ([]LedgerEntry, error)
	MarkArchived(ctx context.Context, ids []string, at time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	ActorID   string
	ContestID string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByContest(ctx context.Context, contestID string, opts ListOpts) ([]AuditEntry, error)
}

// Ledger moves money between the platform and user accounts. Every call is a
// single atomic balance update plus an appended ledger row.
type Ledger interface {
	// Credit adds e.Amount to the account, creating it when absent.
	Credit(ctx context.Context, e LedgerEntry) (LedgerEntry, error)
	// Debit subtracts e.Amount, failing with ErrInsufficientFunds rather
	// than letting the balance go negative.
	Debit(ctx context.Context, e LedgerEntry) (LedgerEntry, error)
}

// Tx is the set of reads and writes available inside a unit of work. Every
// write is discarded unless the enclosing WithinTx callback returns nil.
type Tx interface {
	Ledger

	// LockContest reads the contest and holds its row lock until the
	// transaction ends.
	LockContest(ctx context.Context, id string) (Contest, error)
	InsertContest(ctx context.Context, c Contest) error
	SaveContest(ctx context.Context, c Contest) error

	ListEntries(ctx context.Context, contestID string) ([]Entry, error)
	HasEntry(ctx context.Context, contestID, userID string) (bool, error)
	InsertEntry(ctx context.Context, e Entry) error
	SavePickResults(ctx context.Context, picks []Pick) error
	SaveEntryResults(ctx context.Context, entries []Entry) error

	GetProps(ctx context.Context, ids []string) (map[string]Prop, error)
	LockProp(ctx context.Context, id string) (Prop, error)
	InsertProp(ctx context.Context, p Prop) error
	SavePropOutcome(ctx context.Context, p Prop) error
	// PropSettled reports whether any settled contest has a pick on the prop.
	PropSettled(ctx context.Context, propID string) (bool, error)

	GetClosure(ctx context.Context, contestID string) (Closure, error)
	// InsertClosure fails with ErrConflict when the contest already has one.
	InsertClosure(ctx context.Context, c Closure) error

	AppendAudit(ctx context.Context, e AuditEntry) error
}

// UnitOfWork runs fn inside one database transaction, committing when fn
// returns nil and rolling back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

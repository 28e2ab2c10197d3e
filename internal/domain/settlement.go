package domain

import (
	"slices"
	"time"
)

// SelectionMode says how the winner set of a settlement was chosen.
type SelectionMode string

const (
	SelectAuto     SelectionMode = "auto"
	SelectExplicit SelectionMode = "explicit"
	SelectDraw     SelectionMode = "draw"
)

// Awards is the status a winner receives under this mode.
func (m SelectionMode) Awards() WinnerStatus {
	if m == SelectDraw {
		return DrawParticipant
	}
	return Winner
}

// WinnerSelection is the caller's intent for a settlement.
type WinnerSelection struct {
	Mode     SelectionMode
	EntryIDs []string
}

// ClosureKind distinguishes the two mutually exclusive ways a contest ends.
type ClosureKind string

const (
	ClosureSettlement ClosureKind = "settlement"
	ClosureRefund     ClosureKind = "refund"
)

// Payout is one credit issued when a contest closes.
type Payout struct {
	EntryID string `json:"entry_id"`
	UserID  string `json:"user_id"`
	Amount  Amount `json:"amount"`
}

// Closure is the committed record of a settlement or refund. At most one
// exists per contest.
type Closure struct {
	ContestID string
	Kind      ClosureKind
	Mode      SelectionMode
	WinnerIDs []string
	Void      bool
	Payouts   []Payout
	Total     Amount
	PrizePool Amount
	Currency  Currency
	Reason    string
	ActorID   string
	ClosedAt  time.Time
}

// SameWinners reports whether ids names exactly the recorded winner set.
func (c Closure) SameWinners(ids []string) bool {
	a := slices.Clone(c.WinnerIDs)
	b := slices.Clone(ids)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// LedgerKind classifies a balance movement.
type LedgerKind string

const (
	LedgerEntryFee LedgerKind = "entry_fee"
	LedgerPrize    LedgerKind = "prize"
	LedgerRefund   LedgerKind = "refund"
)

// LedgerEntry is one balance movement. Amount is positive for credits and
// negative for debits. (ContestID, UserID, Kind) is unique.
type LedgerEntry struct {
	ID           string
	UserID       string
	Currency     Currency
	Amount       Amount
	Kind         LedgerKind
	ContestID    string
	BalanceAfter Amount
	CreatedAt    time.Time
}

// Account is a user's balance in one currency.
type Account struct {
	UserID    string
	Currency  Currency
	Balance   Amount
	UpdatedAt time.Time
}

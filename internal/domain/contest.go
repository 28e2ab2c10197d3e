// Package domain holds the contest, prop, entry and ledger types and the
// store interfaces the services depend on.
package domain

import "time"

// Currency separates the real-value and play-money economies. A contest
// never mixes them.
type Currency string

const (
	CurrencyCash  Currency = "cash"
	CurrencyCoins Currency = "coins"
)

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == CurrencyCash || c == CurrencyCoins
}

// AdminStatus is the administrative lifecycle axis.
type AdminStatus string

const (
	AdminAvailable          AdminStatus = "available"
	AdminReady              AdminStatus = "ready"
	AdminManualVerification AdminStatus = "manual_verification"
	AdminSettled            AdminStatus = "settled"
	AdminExpired            AdminStatus = "expired"
)

// PlayerStatus is the player-facing lifecycle axis.
type PlayerStatus string

const (
	PlayerAvailable PlayerStatus = "available"
	PlayerActive    PlayerStatus = "active"
	PlayerCompleted PlayerStatus = "completed"
	PlayerExpired   PlayerStatus = "expired"
)

// PlayerStatus derives the player-facing state. The two axes are never set
// independently.
func (s AdminStatus) PlayerStatus() PlayerStatus {
	switch s {
	case AdminReady, AdminManualVerification:
		return PlayerActive
	case AdminSettled:
		return PlayerCompleted
	case AdminExpired:
		return PlayerExpired
	default:
		return PlayerAvailable
	}
}

// Terminal reports whether no further transition is possible.
func (s AdminStatus) Terminal() bool {
	return s == AdminSettled || s == AdminExpired
}

var adminTransitions = map[AdminStatus][]AdminStatus{
	AdminAvailable:          {AdminReady, AdminExpired},
	AdminReady:              {AdminManualVerification, AdminSettled, AdminExpired},
	AdminManualVerification: {AdminSettled, AdminExpired},
}

// CanTransition reports whether s may move to next.
func (s AdminStatus) CanTransition(next AdminStatus) bool {
	for _, allowed := range adminTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Contest is the pooled-prize unit that gets settled or refunded.
type Contest struct {
	ID            string
	Title         string
	Currency      Currency
	EntryFee      Amount
	ProcessingFee Amount
	PrizePool     Amount
	MaxPlayers    int
	EventStartsAt time.Time
	PropIDs       []string
	AdminStatus   AdminStatus
	PlayerStatus  PlayerStatus
	SettledAt     *time.Time
	SettledBy     string
	RefundReason  string
	RefundedBy    string
	RefundedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves the contest along the admin axis and keeps the player
// axis consistent with it.
func (c *Contest) Transition(next AdminStatus) error {
	if !c.AdminStatus.CanTransition(next) {
		return ErrInvalidState
	}
	c.AdminStatus = next
	c.PlayerStatus = next.PlayerStatus()
	return nil
}

// OffersProp reports whether propID is on the contest's card.
func (c Contest) OffersProp(propID string) bool {
	for _, id := range c.PropIDs {
		if id == propID {
			return true
		}
	}
	return false
}

// ContestView is a contest with its entries, as served to readers.
type ContestView struct {
	Contest Contest
	Entries []Entry
}

package handler

import (
	"time"

	"github.com/scorepeers/settlement/internal/domain"
	"github.com/scorepeers/settlement/internal/scoring"
)

type contestJSON struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Currency      domain.Currency `json:"currency"`
	EntryFee      domain.Amount   `json:"entry_fee"`
	ProcessingFee domain.Amount   `json:"processing_fee"`
	PrizePool     domain.Amount   `json:"prize_pool"`
	MaxPlayers    int             `json:"max_players"`
	EventStartsAt time.Time       `json:"event_starts_at"`
	PropIDs       []string        `json:"prop_ids"`
	AdminStatus   string          `json:"admin_status"`
	PlayerStatus  string          `json:"player_status"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
	SettledBy     string          `json:"settled_by,omitempty"`
	RefundReason  string          `json:"refund_reason,omitempty"`
	RefundedBy    string          `json:"refunded_by,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type pickJSON struct {
	PropID    string `json:"prop_id"`
	Direction string `json:"direction"`
	Result    string `json:"result"`
	Points    int    `json:"points"`
}

type entryJSON struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Picks        []pickJSON    `json:"picks"`
	Score        int           `json:"score"`
	Rank         int           `json:"rank"`
	Prize        domain.Amount `json:"prize"`
	WinnerStatus string        `json:"winner_status,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitzero"`
}

type contestViewJSON struct {
	Contest contestJSON `json:"contest"`
	Entries []entryJSON `json:"entries"`
}

type standingsJSON struct {
	ContestID string          `json:"contest_id"`
	Mode      string          `json:"mode"`
	TopScore  int             `json:"top_score"`
	Winners   []string        `json:"winners"`
	Void      bool            `json:"void"`
	Entries   []entryJSON     `json:"entries"`
	Payouts   []domain.Payout `json:"payouts"`
	Total     domain.Amount   `json:"total"`
}

type propJSON struct {
	ID           string     `json:"id"`
	FightID      string     `json:"fight_id"`
	Subject      string     `json:"subject"`
	Category     string     `json:"category"`
	Line         float64    `json:"line"`
	OutcomeValue *float64   `json:"outcome_value,omitempty"`
	Override     string     `json:"override,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

type accountJSON struct {
	Currency  domain.Currency `json:"currency"`
	Balance   domain.Amount   `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type auditJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	ActorID   string         `json:"actor_id"`
	ContestID string         `json:"contest_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toContestJSON(c domain.Contest) contestJSON {
	ids := c.PropIDs
	if ids == nil {
		ids = []string{}
	}
	return contestJSON{
		ID:            c.ID,
		Title:         c.Title,
		Currency:      c.Currency,
		EntryFee:      c.EntryFee,
		ProcessingFee: c.ProcessingFee,
		PrizePool:     c.PrizePool,
		MaxPlayers:    c.MaxPlayers,
		EventStartsAt: c.EventStartsAt,
		PropIDs:       ids,
		AdminStatus:   string(c.AdminStatus),
		PlayerStatus:  string(c.PlayerStatus),
		SettledAt:     c.SettledAt,
		SettledBy:     c.SettledBy,
		RefundReason:  c.RefundReason,
		RefundedBy:    c.RefundedBy,
		RefundedAt:    c.RefundedAt,
		CreatedAt:     c.CreatedAt,
	}
}

func toEntryJSON(e domain.Entry) entryJSON {
	picks := make([]pickJSON, 0, len(e.Picks))
	for _, p := range e.Picks {
		picks = append(picks, pickJSON{
			PropID:    p.PropID,
			Direction: string(p.Direction),
			Result:    string(p.Result),
			Points:    p.Points,
		})
	}
	return entryJSON{
		ID:           e.ID,
		UserID:       e.UserID,
		Picks:        picks,
		Score:        e.Score,
		Rank:         e.Rank,
		Prize:        e.Prize,
		WinnerStatus: string(e.WinnerStatus),
		CreatedAt:    e.CreatedAt,
	}
}

func toEntriesJSON(entries []domain.Entry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	return out
}

func toStandingsJSON(contestID string, p scoring.Plan) standingsJSON {
	winners := p.WinnerIDs
	if winners == nil {
		winners = []string{}
	}
	payouts := p.Payouts
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	return standingsJSON{
		ContestID: contestID,
		Mode:      string(p.Mode),
		TopScore:  p.TopScore,
		Winners:   winners,
		Void:      p.Void(),
		Entries:   toEntriesJSON(p.Entries),
		Payouts:   payouts,
		Total:     p.Total,
	}
}

func toPropJSON(p domain.Prop) propJSON {
	return propJSON{
		ID:           p.ID,
		FightID:      p.FightID,
		Subject:      p.Subject,
		Category:     p.Category,
		Line:         p.Line,
		OutcomeValue: p.OutcomeValue,
		Override:     string(p.Override),
		ResolvedAt:   p.ResolvedAt,
	}
}

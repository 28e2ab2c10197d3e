package domain

import (
	"math"
	"strings"
	"time"
)

// Override is an event tag that forces every pick on a prop to resolve
// correct regardless of direction or line.
type Override string

const (
	OverrideNone             Override = ""
	OverrideFightCancelled   Override = "fight_cancelled"
	OverrideNoContest        Override = "no_contest"
	OverrideDisqualification Override = "disqualification"
	OverrideAccidentalInjury Override = "accidental_injury"
)

// ParseOverride accepts the wire tags plus "none" and the empty string.
func ParseOverride(s string) (Override, error) {
	switch o := Override(strings.ToLower(strings.TrimSpace(s))); o {
	case "", "none":
		return OverrideNone, nil
	case OverrideFightCancelled, OverrideNoContest, OverrideDisqualification, OverrideAccidentalInjury:
		return o, nil
	default:
		return OverrideNone, ErrInvalidOverride
	}
}

// Forced reports whether the override forces a correct result.
func (o Override) Forced() bool {
	switch o {
	case OverrideFightCancelled, OverrideNoContest, OverrideDisqualification, OverrideAccidentalInjury:
		return true
	}
	return false
}

// Valid reports whether o is a known tag, including none.
func (o Override) Valid() bool {
	return o == OverrideNone || o.Forced()
}

// Tag returns the wire representation ("none" for no override).
func (o Override) Tag() string {
	if o == OverrideNone {
		return "none"
	}
	return string(o)
}

// Prop is a single over/under proposition on a fighter metric.
type Prop struct {
	ID           string
	FightID      string
	Subject      string
	Category     string
	Line         float64
	OutcomeValue *float64
	Override     Override
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

// HalfIntegerLine reports whether line sits on a half step (0.5, 1.5, ...),
// so no whole-number outcome can ever equal it.
func HalfIntegerLine(line float64) bool {
	if math.IsNaN(line) || math.IsInf(line, 0) {
		return false
	}
	return math.Mod(math.Abs(line*2), 2) == 1
}

// Resolved reports whether an authoritative outcome has been recorded.
func (p Prop) Resolved() bool {
	return p.OutcomeValue != nil
}

// HedgeKey identifies the (fight, subject, category) triple that may appear
// at most once in an entry.
func (p Prop) HedgeKey() string {
	return p.FightID + "|" + p.Subject + "|" + p.Category
}

// Package scoring holds the pure settlement computations: pick resolution,
// standings, winner selection and prize splitting. Nothing here touches
// storage.
package scoring

import (
	"fmt"
	"math"

	"github.com/scorepeers/settlement/internal/domain"
)

// PointsPerCorrectPick is awarded for every correct pick.
const PointsPerCorrectPick = 10

// Resolution is the derived result of one pick.
type Resolution struct {
	Result domain.PickResult
	Points int
}

var (
	correct   = Resolution{Result: domain.PickCorrect, Points: PointsPerCorrectPick}
	incorrect = Resolution{Result: domain.PickIncorrect, Points: 0}
)

// Resolve derives a pick's result from the prop's authoritative outcome.
//
// A forced override resolves correct regardless of direction, line or value.
// Otherwise more wins strictly above the line and less strictly below it. An
// outcome exactly on the line is rejected with ErrLineTie: lines are set in
// half-point increments so a tie means bad input.
func Resolve(direction domain.Direction, line float64, outcome *float64, override domain.Override) (Resolution, error) {
	if outcome == nil {
		return Resolution{}, domain.ErrUnresolvedProp
	}
	if !override.Valid() {
		return Resolution{}, fmt.Errorf("override %q: %w", override, domain.ErrInvalidOverride)
	}
	if direction != domain.DirectionMore && direction != domain.DirectionLess {
		return Resolution{}, fmt.Errorf("direction %q: %w", direction, domain.ErrInvalidPick)
	}
	if override.Forced() {
		return correct, nil
	}

	v := *outcome
	if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(line) || math.IsInf(line, 0) {
		return Resolution{}, fmt.Errorf("outcome %v line %v: %w", v, line, domain.ErrInvalidProp)
	}
	if v == line {
		return Resolution{}, fmt.Errorf("outcome %v on line %v: %w", v, line, domain.ErrLineTie)
	}

	if (direction == domain.DirectionMore && v > line) || (direction == domain.DirectionLess && v < line) {
		return correct, nil
	}
	return incorrect, nil
}

// ResolveEntry returns a copy of e with every pick resolved against props.
func ResolveEntry(e domain.Entry, props map[string]domain.Prop) (domain.Entry, error) {
	picks := make([]domain.Pick, len(e.Picks))
	for i, p := range e.Picks {
		prop, ok := props[p.PropID]
		if !ok {
			return domain.Entry{}, fmt.Errorf("entry %s pick %s: prop %s: %w", e.ID, p.ID, p.PropID, domain.ErrUnresolvedProp)
		}
		res, err := Resolve(p.Direction, prop.Line, prop.OutcomeValue, prop.Override)
		if err != nil {
			return domain.Entry{}, fmt.Errorf("entry %s pick %s: prop %s: %w", e.ID, p.ID, p.PropID, err)
		}
		p.Result = res.Result
		p.Points = res.Points
		picks[i] = p
	}
	e.Picks = picks
	return e, nil
}

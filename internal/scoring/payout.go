package scoring

import (
	"fmt"
	"slices"

	"github.com/scorepeers/settlement/internal/domain"
)

// SplitPool divides pool evenly across winners. Each winner receives
// pool / k; the pool % k leftover minor units go one each to the first
// winners in entry ID order, so the split always sums to pool exactly.
// An empty winner set pays nothing.
func SplitPool(pool domain.Amount, winnerIDs []string) (map[string]domain.Amount, error) {
	if pool < 0 {
		return nil, fmt.Errorf("negative prize pool %s: %w", pool, domain.ErrInvalidContest)
	}
	out := make(map[string]domain.Amount, len(winnerIDs))
	k := domain.Amount(len(winnerIDs))
	if k == 0 {
		return out, nil
	}

	ids := slices.Clone(winnerIDs)
	slices.Sort(ids)
	base := pool / k
	rem := pool % k
	for i, id := range ids {
		amt := base
		if domain.Amount(i) < rem {
			amt++
		}
		out[id] = amt
	}
	return out, nil
}

// Plan is the complete, not yet persisted outcome of settling a contest.
type Plan struct {
	Standings
	Mode      domain.SelectionMode
	WinnerIDs []string
	Status    domain.WinnerStatus
	// Payouts are ordered by entry ID and only include winners.
	Payouts []domain.Payout
	Total   domain.Amount
}

// Void reports whether the plan pays nothing.
func (p Plan) Void() bool {
	return len(p.WinnerIDs) == 0
}

// BuildPlan resolves every pick, ranks the entries, applies the winner
// selection and splits the pool. The returned standings entries carry their
// final prize and winner status.
func BuildPlan(entries []domain.Entry, props map[string]domain.Prop, sel domain.WinnerSelection, pool domain.Amount) (Plan, error) {
	resolved := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		r, err := ResolveEntry(e, props)
		if err != nil {
			return Plan{}, err
		}
		resolved = append(resolved, r)
	}

	st := ComputeStandings(resolved)
	winners, status, err := SelectWinners(st, sel)
	if err != nil {
		return Plan{}, err
	}
	split, err := SplitPool(pool, winners)
	if err != nil {
		return Plan{}, err
	}

	mode := sel.Mode
	if mode == "" {
		mode = domain.SelectAuto
	}
	plan := Plan{Mode: mode, WinnerIDs: winners, Status: status}

	for i := range st.Entries {
		e := &st.Entries[i]
		amt, won := split[e.ID]
		if won {
			e.WinnerStatus = status
			e.Prize = amt
		} else {
			e.WinnerStatus = domain.NotWinner
			e.Prize = 0
		}
	}
	// Computed winners that were overridden away lose their status.
	st.Winners = winners
	plan.Standings = st

	byID := make(map[string]domain.Entry, len(st.Entries))
	for _, e := range st.Entries {
		byID[e.ID] = e
	}
	for _, id := range winners {
		plan.Payouts = append(plan.Payouts, domain.Payout{
			EntryID: id,
			UserID:  byID[id].UserID,
			Amount:  split[id],
		})
		plan.Total += split[id]
	}
	return plan, nil
}

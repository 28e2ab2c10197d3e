package scoring

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/scorepeers/settlement/internal/domain"
)

// Standings is the ranked view of a contest's entries.
type Standings struct {
	// Entries are ordered by rank, ties by entry ID ascending.
	Entries  []domain.Entry
	TopScore int
	// Winners holds the computed winner set in entry ID order. It is empty
	// when every entry scored zero.
	Winners []string
}

// Void reports whether the computed winner set is empty.
func (s Standings) Void() bool {
	return len(s.Winners) == 0
}

// Score sums the points of an entry's resolved picks.
func Score(e domain.Entry) int {
	total := 0
	for _, p := range e.Picks {
		if p.Result == domain.PickPending {
			continue
		}
		total += p.Points
	}
	return total
}

// ComputeStandings scores and ranks entries using standard competition
// ranking (1, 1, 3). The input slice is not modified.
func ComputeStandings(entries []domain.Entry) Standings {
	ranked := make([]domain.Entry, len(entries))
	copy(ranked, entries)
	for i := range ranked {
		ranked[i].Score = Score(ranked[i])
	}

	slices.SortFunc(ranked, func(a, b domain.Entry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var st Standings
	for i := range ranked {
		if i == 0 || ranked[i].Score != ranked[i-1].Score {
			ranked[i].Rank = i + 1
		} else {
			ranked[i].Rank = ranked[i-1].Rank
		}
	}
	if len(ranked) > 0 {
		st.TopScore = ranked[0].Score
	}
	if st.TopScore > 0 {
		for _, e := range ranked {
			if e.Score == st.TopScore {
				st.Winners = append(st.Winners, e.ID)
			}
		}
	}
	st.Entries = ranked
	return st
}

// SelectWinners applies the caller's selection to computed standings and
// returns the winner IDs in ascending order with the status they receive.
//
// Auto uses the computed set. Draw makes every entry a draw participant
// regardless of score. Explicit IDs replace the computed set and must be
// non-empty, unique and belong to the contest.
func SelectWinners(st Standings, sel domain.WinnerSelection) ([]string, domain.WinnerStatus, error) {
	switch sel.Mode {
	case domain.SelectAuto, "":
		return slices.Clone(st.Winners), domain.Winner, nil

	case domain.SelectDraw:
		if len(st.Entries) == 0 {
			return nil, "", fmt.Errorf("draw with no entries: %w", domain.ErrInvalidSelection)
		}
		ids := make([]string, 0, len(st.Entries))
		for _, e := range st.Entries {
			ids = append(ids, e.ID)
		}
		slices.Sort(ids)
		return ids, domain.DrawParticipant, nil

	case domain.SelectExplicit:
		if len(sel.EntryIDs) == 0 {
			return nil, "", fmt.Errorf("explicit selection is empty: %w", domain.ErrInvalidSelection)
		}
		known := make(map[string]bool, len(st.Entries))
		for _, e := range st.Entries {
			known[e.ID] = true
		}
		seen := make(map[string]bool, len(sel.EntryIDs))
		for _, id := range sel.EntryIDs {
			if !known[id] {
				return nil, "", fmt.Errorf("entry %s not in contest: %w", id, domain.ErrInvalidSelection)
			}
			if seen[id] {
				return nil, "", fmt.Errorf("entry %s selected twice: %w", id, domain.ErrInvalidSelection)
			}
			seen[id] = true
		}
		ids := slices.Clone(sel.EntryIDs)
		slices.Sort(ids)
		return ids, domain.Winner, nil

	default:
		return nil, "", fmt.Errorf("mode %q: %w", sel.Mode, domain.ErrInvalidSelection)
	}
}

package domain

import (
	"strings"
	"time"
)

// Direction is the side a contestant takes against a prop line.
type Direction string

const (
	DirectionMore Direction = "more"
	DirectionLess Direction = "less"
)

// ParseDirection normalises a wire value into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionMore, DirectionLess:
		return d, nil
	default:
		return "", ErrInvalidPick
	}
}

// PickResult is derived by the resolver, never chosen by the contestant.
type PickResult string

const (
	PickPending   PickResult = "pending"
	PickCorrect   PickResult = "correct"
	PickIncorrect PickResult = "incorrect"
)

// Pick is one directional selection within an entry.
type Pick struct {
	ID        string
	EntryID   string
	PropID    string
	Direction Direction
	Result    PickResult
	Points    int
}

// WinnerStatus replaces the legacy mix of booleans and strings.
type WinnerStatus string

const (
	NotWinner       WinnerStatus = "not_winner"
	Winner          WinnerStatus = "winner"
	DrawParticipant WinnerStatus = "draw"
)

// Entry is a contestant's participation record in one contest.
type Entry struct {
	ID           string
	ContestID    string
	UserID       string
	Picks        []Pick
	Score        int
	Rank         int
	Prize        Amount
	WinnerStatus WinnerStatus
	CreatedAt    time.Time
}

// PropIDs returns the props referenced by the entry's picks.
func (e Entry) PropIDs() []string {
	ids := make([]string, 0, len(e.Picks))
	for _, p := range e.Picks {
		ids = append(ids, p.PropID)
	}
	return ids
}

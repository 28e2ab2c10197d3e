package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")

	// ErrPrecondition is matched by every request-validation error below.
	ErrPrecondition = errors.New("precondition failed")
	// ErrConflict reports a request that contradicts committed state.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable wraps storage and dependency failures. Nothing was
	// committed and the operation is safe to retry.
	ErrUnavailable = errors.New("dependency unavailable")
)

var (
	ErrUnresolvedProp    = precondition("prop outcome not recorded")
	ErrLineTie           = precondition("outcome equals line")
	ErrVoidNotConfirmed  = precondition("void settlement not confirmed")
	ErrReasonRequired    = precondition("refund reason required")
	ErrInvalidSelection  = precondition("invalid winner selection")
	ErrInvalidState      = precondition("contest state does not allow this operation")
	ErrInvalidPick       = precondition("invalid pick")
	ErrDuplicatePick     = precondition("duplicate pick")
	ErrInvalidOverride   = precondition("unknown override tag")
	ErrInvalidContest    = precondition("invalid contest")
	ErrInvalidProp       = precondition("invalid prop")
	ErrContestFull       = precondition("contest is full")
	ErrInsufficientFunds = precondition("insufficient funds")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

func precondition(msg string) error {
	return &kindError{kind: ErrPrecondition, msg: msg}
}

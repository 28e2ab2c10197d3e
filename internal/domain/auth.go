package domain

import "context"

// Capability names one privileged action.
type Capability string

const (
	CapabilitySettle         Capability = "contest:settle"
	CapabilityRefund         Capability = "contest:refund"
	CapabilityManageContests Capability = "contest:manage"
	CapabilityRecordOutcome  Capability = "prop:outcome"
	CapabilityReadAudit      Capability = "audit:read"
)

// SystemActor is the identity recorded for automated lifecycle actions.
const SystemActor = "system"

// Authorizer is the single capability gate in front of privileged
// operations. It returns ErrForbidden when actorID lacks c.
type Authorizer interface {
	Authorize(ctx context.Context, actorID string, c Capability) error
}

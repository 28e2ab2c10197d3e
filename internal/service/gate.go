package service

import (
	"context"
	"fmt"

	"github.com/scorepeers/settlement/internal/domain"
)

var _ domain.Authorizer = (*StaticAuthorizer)(nil)

// StaticAuthorizer grants capabilities from a fixed actor table loaded from
// config. The system actor always holds CapabilityRefund so the lifecycle
// sweeper can refund unfilled contests.
type StaticAuthorizer struct {
	grants map[string]map[domain.Capability]bool
}

// NewStaticAuthorizer builds the grant table from actor -> capabilities.
func NewStaticAuthorizer(grants map[string][]domain.Capability) *StaticAuthorizer {
	a := &StaticAuthorizer{grants: make(map[string]map[domain.Capability]bool, len(grants)+1)}
	for actor, caps := range grants {
		set := make(map[domain.Capability]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		a.grants[actor] = set
	}
	if a.grants[domain.SystemActor] == nil {
		a.grants[domain.SystemActor] = map[domain.Capability]bool{}
	}
	a.grants[domain.SystemActor][domain.CapabilityRefund] = true
	return a
}

// Authorize returns domain.ErrForbidden unless actorID holds c.
func (a *StaticAuthorizer) Authorize(_ context.Context, actorID string, c domain.Capability) error {
	if actorID != "" && a.grants[actorID][c] {
		return nil
	}
	return fmt.Errorf("%w: actor %q lacks %s", domain.ErrForbidden, actorID, c)
}

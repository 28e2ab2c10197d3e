package domain

import (
	"context"
	"time"
)

// ContestCache holds read snapshots of committed contest views.
type ContestCache interface {
	Set(ctx context.Context, view ContestView) error
	Get(ctx context.Context, id string) (ContestView, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

const (
	// SettlementChannel carries committed settlement and refund events.
	SettlementChannel = "ch:settlement"
	// SettlementStream is the durable copy of SettlementChannel.
	SettlementStream = "stream:settlement"
)

// ContestEvent is published after a settlement or refund commits.
type ContestEvent struct {
	Type      string    `json:"type"`
	ContestID string    `json:"contest_id"`
	ActorID   string    `json:"actor_id"`
	Winners   []string  `json:"winners,omitempty"`
	Void      bool      `json:"void,omitempty"`
	Total     Amount    `json:"total"`
	Currency  Currency  `json:"currency"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

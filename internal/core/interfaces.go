package core

import (
	"context"
	"time"

	"github.com/avdeyev/parley/internal/domain"
)

// Frame is a raw serialized payload delivered over a channel.
type Frame []byte

// Channel abstracts an established duplex connection to one participant.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks.
type Channel interface {
	TrySend(Frame) error
	Close()
}

// Entry is one durable log record.
type Entry struct {
	Key   string
	Value []byte
}

// DurableLog is an ordered per-room key-value log. Keys sort
// lexicographically; chronological ordering is the caller's concern and is
// achieved with fixed-width timestamp keys.
type DurableLog interface {
	Put(ctx context.Context, room domain.RoomName, key string, value []byte) error
	// ScanReverse returns up to limit entries with the given key prefix,
	// newest key first.
	ScanReverse(ctx context.Context, room domain.RoomName, prefix string, limit int) ([]Entry, error)
	DeletePrefix(ctx context.Context, room domain.RoomName, prefix string) error
}

// AlarmStore holds at most one scheduled wake-up per room.
type AlarmStore interface {
	// Arm schedules a wake-up at `at` only if none is pending and returns
	// the effective wake-up time, which may be an earlier existing one.
	Arm(ctx context.Context, room domain.RoomName, at time.Time) (time.Time, error)
	// Reset unconditionally replaces the pending wake-up.
	Reset(ctx context.Context, room domain.RoomName, at time.Time) error
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SentTo  int
	Dropped []domain.Session
}

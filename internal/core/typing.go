package core

import (
	"time"

	"github.com/avdeyev/parley/internal/domain"
)

type typingEntry struct {
	userID        domain.UserID
	username      string
	lastSignal    time.Time
	lastBroadcast time.Time
}

// typingTracker keeps per-user "is typing" state. Entries are ephemeral and
// never persisted. Kept in first-signal order so the aggregate payload is
// stable across refreshes. Only the coordinator goroutine touches it.
type typingTracker struct {
	timeout time.Duration
	entries []*typingEntry
}

func newTypingTracker(timeout time.Duration) *typingTracker {
	return &typingTracker{timeout: timeout}
}

func (t *typingTracker) find(userID domain.UserID) (int, *typingEntry) {
	for i, e := range t.entries {
		if e.userID == userID {
			return i, e
		}
	}
	return -1, nil
}

// Signal records a typing signal and reports whether a rebroadcast is
// warranted. Repeated signals inside half the timeout window only refresh the
// timestamp; never rebroadcast the same user more than once per half-window.
func (t *typingTracker) Signal(userID domain.UserID, username string, now time.Time) bool {
	_, e := t.find(userID)
	if e == nil {
		t.entries = append(t.entries, &typingEntry{
			userID:        userID,
			username:      username,
			lastSignal:    now,
			lastBroadcast: now,
		})
		return true
	}
	e.lastSignal = now
	e.username = username
	if now.Sub(e.lastBroadcast) >= t.timeout/2 {
		e.lastBroadcast = now
		return true
	}
	return false
}

// Stop removes the entry, reporting whether anything changed.
func (t *typingTracker) Stop(userID domain.UserID) bool {
	i, e := t.find(userID)
	if e == nil {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// SweepExpired drops entries whose last signal is older than the timeout.
func (t *typingTracker) SweepExpired(now time.Time) bool {
	kept := t.entries[:0]
	changed := false
	for _, e := range t.entries {
		if now.Sub(e.lastSignal) > t.timeout {
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	return changed
}

// Typists returns usernames currently typing, in first-signal order.
func (t *typingTracker) Typists() []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.username)
	}
	return out
}

package core

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avdeyev/parley/internal/domain"
)

// fakeChannel records every frame delivered to it and can be made to refuse
// delivery, standing in for a dead connection.
type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (c *fakeChannel) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	cp := make([]byte, len(f))
	copy(cp, f)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeChannel) Close() {}

func (c *fakeChannel) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// eventsOfType decodes the channel's frames and returns those whose type
// matches, as generic maps for field assertions.
func (c *fakeChannel) eventsOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.received() {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("undecodable frame %q: %v", f, err)
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeLog is an in-memory DurableLog with the same ordering semantics as the
// sqlite store. failPuts makes writes fail to exercise the
// broadcast-despite-persistence-failure property.
type fakeLog struct {
	mu       sync.Mutex
	entries  map[domain.RoomName]map[string][]byte
	failPuts bool
}

func newFakeLog() *fakeLog {
	return &fakeLog{entries: make(map[domain.RoomName]map[string][]byte)}
}

func (l *fakeLog) Put(_ context.Context, room domain.RoomName, key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPuts {
		return errors.New("disk on fire")
	}
	if l.entries[room] == nil {
		l.entries[room] = make(map[string][]byte)
	}
	l.entries[room][key] = value
	return nil
}

func (l *fakeLog) ScanReverse(_ context.Context, room domain.RoomName, prefix string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.entries[room]))
	for k := range l.entries[room] {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k, Value: l.entries[room][k]})
	}
	return out, nil
}

func (l *fakeLog) DeletePrefix(_ context.Context, room domain.RoomName, prefix string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.entries[room] {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(l.entries[room], k)
		}
	}
	return nil
}

func (l *fakeLog) count(room domain.RoomName) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[room])
}

// fakeAlarms records arming without any timer behavior.
type fakeAlarms struct {
	mu       sync.Mutex
	pending  map[domain.RoomName]time.Time
	resetErr error
	resets   int
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{pending: make(map[domain.RoomName]time.Time)}
}

func (a *fakeAlarms) Arm(_ context.Context, room domain.RoomName, at time.Time) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.pending[room]; ok {
		return existing, nil
	}
	a.pending[room] = at
	return at, nil
}

func (a *fakeAlarms) Reset(_ context.Context, room domain.RoomName, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets++
	if a.resetErr != nil {
		return a.resetErr
	}
	a.pending[room] = at
	return nil
}

func clientFrame(t *testing.T, ev domain.ClientEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal client event: %v", err)
	}
	return b
}

func newTestRoom(t *testing.T, log *fakeLog, alarms *fakeAlarms) *Room {
	t.Helper()
	r := NewRoom(context.Background(), "general", log, alarms, Options{
		HistoryCap:       5,
		TypingTimeout:    5 * time.Second,
		EvictionInterval: time.Hour,
		MailboxSize:      16,
	})
	t.Cleanup(r.cancel)
	return r
}

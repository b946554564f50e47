package core

import (
	"context"
	"sync"
	"time"

	"github.com/avdeyev/parley/internal/domain"
)

// Options are the per-room tunables.
type Options struct {
	HistoryCap       int
	TypingTimeout    time.Duration
	EvictionInterval time.Duration
	MailboxSize      int
}

func (o Options) withDefaults() Options {
	if o.HistoryCap <= 0 {
		o.HistoryCap = 50
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 5 * time.Second
	}
	if o.EvictionInterval <= 0 {
		o.EvictionInterval = 24 * time.Hour
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	return o
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"memberCount"`
}

// RoomManager owns room actor lifecycles. Rooms share the durable stores but
// nothing else; there is no cross-room coordination.
type RoomManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	rooms  map[domain.RoomName]*Room
	log    DurableLog
	alarms AlarmStore
	opts   Options
}

func NewRoomManager(parent context.Context, dl DurableLog, alarms AlarmStore, opts Options) *RoomManager {
	ctx, cancel := context.WithCancel(parent)
	return &RoomManager{
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[domain.RoomName]*Room),
		log:    dl,
		alarms: alarms,
		opts:   opts.withDefaults(),
	}
}

func (m *RoomManager) GetOrCreate(name domain.RoomName) *Room {
	m.mu.RLock()
	room, ok := m.rooms[name]
	m.mu.RUnlock()
	if ok {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[name]; ok {
		return room
	}
	room = NewRoom(m.ctx, name, m.log, m.alarms, m.opts)
	m.rooms[name] = room
	go room.Run()
	return room
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for name, r := range m.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: r.presence.Count()})
	}
	return out
}

func (m *RoomManager) StopRoom(name domain.RoomName) {
	m.mu.Lock()
	room, ok := m.rooms[name]
	if ok {
		delete(m.rooms, name)
	}
	m.mu.Unlock()
	if ok {
		room.Stop()
	}
}

// Shutdown stops every room and waits for their loops to drain.
func (m *RoomManager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[domain.RoomName]*Room)
	m.mu.Unlock()

	m.cancel()
	for _, r := range rooms {
		<-r.done
	}
}

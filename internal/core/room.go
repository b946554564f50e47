package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/parley/internal/domain"
)

// roomEvent is anything the coordinator processes: inbound frames, disconnect
// notifications, scheduler wake-ups and host-driven session reattachment.
// All of them go through one ordered mailbox; exactly one event is processed
// to completion before the next begins, which is why no mutation of
// presence/history/typing state ever needs cross-event locking.
type roomEvent interface{ isRoomEvent() }

type frameEvent struct {
	ch   Channel
	data []byte
}

type disconnectEvent struct {
	ch Channel
}

type tickEvent struct {
	next chan time.Time
}

// AttachedChannel is the per-connection metadata blob the connection layer
// persisted and handed back verbatim, paired with the re-established channel.
type AttachedChannel struct {
	Ch      Channel
	Session domain.Session
}

type resumeEvent struct {
	attached []AttachedChannel
}

func (frameEvent) isRoomEvent()      {}
func (disconnectEvent) isRoomEvent() {}
func (tickEvent) isRoomEvent()       {}
func (resumeEvent) isRoomEvent()     {}

// Room is the single stateful actor owning one chat room. It is the sole
// writer of the presence registry, message history and typing tracker.
type Room struct {
	Name domain.RoomName

	ctx    context.Context
	cancel context.CancelFunc
	events chan roomEvent
	done   chan struct{}

	presence *presence
	typing   *typingTracker
	history  *history
	bcast    *broadcaster
	evict    *evictor

	lastMsgTS int64
}

func NewRoom(parent context.Context, name domain.RoomName, dl DurableLog, alarms AlarmStore, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	p := newPresence(name)
	r := &Room{
		Name:     name,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan roomEvent, opts.MailboxSize),
		done:     make(chan struct{}),
		presence: p,
		typing:   newTypingTracker(opts.TypingTimeout),
		history:  newHistory(name, dl, opts.HistoryCap),
		bcast:    &broadcaster{presence: p},
	}
	r.evict = &evictor{
		room:     name,
		alarms:   alarms,
		interval: opts.EvictionInterval,
		wake:     r.deliverTick,
	}
	return r
}

// Run rehydrates history, arms the eviction schedule and processes the
// mailbox until the room context is canceled. Meant to run in its own
// goroutine, one per room.
func (r *Room) Run() {
	defer close(r.done)

	if err := r.history.Rehydrate(r.ctx); err != nil {
		// Serve the room live-only rather than refusing to start.
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.Name)).Msg("rehydration failed")
	}
	if err := r.evict.Start(r.ctx); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.Name)).Msg("failed to arm eviction schedule")
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Room) Stop() {
	r.cancel()
	<-r.done
}

// Deliver hands an inbound frame to the coordinator. Blocks when the mailbox
// is full, which backpressures the connection's read pump.
func (r *Room) Deliver(ch Channel, data []byte) {
	select {
	case r.events <- frameEvent{ch: ch, data: data}:
	case <-r.ctx.Done():
	}
}

// NotifyDisconnect is called by the connection layer on abrupt close. It
// shares the leave path with explicit leave frames.
func (r *Room) NotifyDisconnect(ch Channel) {
	select {
	case r.events <- disconnectEvent{ch: ch}:
	case <-r.ctx.Done():
	}
}

// Resume reattaches sessions from persisted per-connection metadata without
// emitting join broadcasts. Enqueued like any other event, so it lands before
// frames delivered afterwards.
func (r *Room) Resume(attached []AttachedChannel) {
	select {
	case r.events <- resumeEvent{attached: attached}:
	case <-r.ctx.Done():
	}
}

// UsernameTaken answers the pre-upgrade availability query. Inherently racy
// against concurrent joins; the authoritative re-check happens inside join.
func (r *Room) UsernameTaken(username string) bool {
	return r.presence.HasUsername(username)
}

func (r *Room) deliverTick(ctx context.Context) (time.Time, bool) {
	next := make(chan time.Time, 1)
	select {
	case r.events <- tickEvent{next: next}:
	case <-ctx.Done():
		return time.Time{}, false
	}
	select {
	case at := <-next:
		return at, true
	case <-ctx.Done():
		return time.Time{}, false
	}
}

func (r *Room) dispatch(ev roomEvent) {
	now := time.Now()
	switch e := ev.(type) {
	case frameEvent:
		r.handleFrame(e.ch, e.data, now)
	case disconnectEvent:
		r.removeChannel(e.ch, now)
	case tickEvent:
		e.next <- r.handleTick(now)
	case resumeEvent:
		r.handleResume(e.attached, now)
	}
}

func (r *Room) handleFrame(ch Channel, data []byte, now time.Time) {
	ev, err := domain.DecodeClientEvent(data)
	if err != nil {
		// Malformed input is dropped; the channel stays in its current state.
		log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.Name)).Msg("dropping malformed frame")
		return
	}
	switch ev.Type {
	case domain.EventJoin:
		r.handleJoin(ch, ev, now)
	case domain.EventLeave:
		r.removeChannel(ch, now)
	case domain.EventMessage:
		r.handleMessage(ch, ev, now)
	case domain.EventTyping:
		r.handleTyping(ch, ev, now)
	case domain.EventStoppedTyping:
		r.handleStoppedTyping(ch, ev, now)
	}
}

func (r *Room) handleJoin(ch Channel, ev domain.ClientEvent, now time.Time) {
	sess, err := r.presence.Join(ch, ev.UserID, ev.Username, now)
	if errors.Is(err, ErrAlreadyJoined) {
		// A channel carries at most one session; a repeated join is a no-op.
		log.Warn().Str("module", "core.room").Str("room", string(r.Name)).Str("username", ev.Username).Msg("duplicate join from bound channel dropped")
		return
	}
	if err != nil {
		// Rejected without side effects; whether to close the channel is the
		// connection layer's call.
		log.Info().Str("module", "core.room").Str("room", string(r.Name)).Str("username", ev.Username).Msg("join rejected, username taken")
		if err := r.bcast.Unicast(ch, domain.NewEventErr("username_taken", now)); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Msg("unicast join rejection")
		}
		return
	}

	r.broadcast(domain.NewUserJoined(sess, r.presence.Snapshot(), now), now)

	// History and typing snapshots go to the new channel only.
	if err := r.bcast.Unicast(ch, domain.NewRecentMessages(r.history.Recent(), now)); err != nil {
		log.Warn().Err(err).Str("module", "core.room").Msg("unicast recent messages")
	}
	if err := r.bcast.Unicast(ch, domain.NewTypingUpdate(r.typing.Typists(), now)); err != nil {
		log.Warn().Err(err).Str("module", "core.room").Msg("unicast typing snapshot")
	}
}

func (r *Room) handleMessage(ch Channel, ev domain.ClientEvent, now time.Time) {
	// Identity comes from the live session, never from the frame.
	sess, ok := r.presence.SessionOf(ch)
	if !ok {
		log.Warn().Str("module", "core.room").Str("room", string(r.Name)).Msg("message from unjoined channel dropped")
		return
	}
	msg := domain.Message{
		MessageID: ev.MessageID,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Content:   ev.Content,
		Timestamp: r.nextMsgTimestamp(now),
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	// The durable write completes before the next event is taken from the
	// mailbox, so durable log order always matches broadcast order.
	r.history.Append(r.ctx, msg)

	if r.typing.Stop(sess.UserID) {
		r.broadcast(domain.NewTypingUpdate(r.typing.Typists(), now), now)
	}
	r.broadcast(domain.NewChatMessage(msg), now)
}

func (r *Room) handleTyping(ch Channel, ev domain.ClientEvent, now time.Time) {
	sess, ok := r.presence.SessionOf(ch)
	if !ok {
		return
	}
	if r.typing.Signal(sess.UserID, sess.Username, now) {
		r.broadcast(domain.NewTypingUpdate(r.typing.Typists(), now), now)
	}
}

func (r *Room) handleStoppedTyping(ch Channel, ev domain.ClientEvent, now time.Time) {
	sess, ok := r.presence.SessionOf(ch)
	if !ok {
		return
	}
	if r.typing.Stop(sess.UserID) {
		r.broadcast(domain.NewTypingUpdate(r.typing.Typists(), now), now)
	}
}

// broadcast fans the event out and reaps the fallout: a session pruned for a
// failed delivery takes its typing entry with it immediately, not on the next
// sweep. The follow-up typing delta can itself prune more sessions; the chain
// terminates because every prune shrinks the presence set.
func (r *Room) broadcast(event any, now time.Time) {
	res := r.bcast.Broadcast(event)
	for len(res.Dropped) > 0 {
		changed := false
		for _, sess := range res.Dropped {
			if r.typing.Stop(sess.UserID) {
				changed = true
			}
		}
		if !changed {
			return
		}
		res = r.bcast.Broadcast(domain.NewTypingUpdate(r.typing.Typists(), now))
	}
}

// removeChannel is the one leave path shared by explicit leave frames and
// disconnect notifications. Idempotent: a second removal of the same channel
// does nothing.
func (r *Room) removeChannel(ch Channel, now time.Time) {
	sess, ok := r.presence.Leave(ch)
	if !ok {
		return
	}
	if r.typing.Stop(sess.UserID) {
		r.broadcast(domain.NewTypingUpdate(r.typing.Typists(), now), now)
	}
	r.broadcast(domain.NewUserLeft(sess, r.presence.Snapshot(), now), now)
}

func (r *Room) handleResume(attached []AttachedChannel, now time.Time) {
	for _, a := range attached {
		if _, err := r.presence.Join(a.Ch, a.Session.UserID, a.Session.Username, now); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.Name)).Str("username", a.Session.Username).Msg("resume skipped")
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.Name)).Int("attached", len(attached)).Msg("sessions resumed")
}

// handleTick runs the eviction sweep: truncate durable history, clear the
// buffer, expire stale typing entries, then re-arm. Returns the next wake-up.
func (r *Room) handleTick(now time.Time) time.Time {
	if err := r.history.Truncate(r.ctx); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.Name)).Msg("history truncation failed")
	}
	if r.typing.SweepExpired(now) {
		r.broadcast(domain.NewTypingUpdate(r.typing.Typists(), now), now)
	}
	return r.evict.Rearm(r.ctx, now)
}

// nextMsgTimestamp keeps message timestamps strictly increasing within the
// room so the storage key order can never diverge from broadcast order, even
// for messages landing in the same millisecond.
func (r *Room) nextMsgTimestamp(now time.Time) int64 {
	ts := now.UnixMilli()
	if ts <= r.lastMsgTS {
		ts = r.lastMsgTS + 1
	}
	r.lastMsgTS = ts
	return ts
}

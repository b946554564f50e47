package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/avdeyev/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

const msgPrefix = "msg:"

// msgKey builds the durable key for a message. The timestamp is zero-padded
// to a fixed width so lexicographic key order equals chronological order;
// the id suffix disambiguates messages sharing a millisecond.
func msgKey(ts int64, messageID string) string {
	return fmt.Sprintf("%s%020d:%s", msgPrefix, ts, messageID)
}

// history is the bounded recent-message buffer backed by the durable log.
// The buffer holds at most cap entries; the log retains everything until the
// eviction sweep truncates it.
type history struct {
	room domain.RoomName
	log  DurableLog
	cap  int
	buf  []domain.Message
}

func newHistory(room domain.RoomName, dl DurableLog, capacity int) *history {
	return &history{room: room, log: dl, cap: capacity}
}

// Append writes the message durably, then updates the in-memory buffer. A
// failed durable write is logged and counted against post-restart history,
// but does not stop the in-memory append or the broadcast: availability is
// favored over durability for this subsystem.
func (h *history) Append(ctx context.Context, m domain.Message) {
	value, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "core.history").Str("room", string(h.room)).Msg("encode message")
		return
	}
	if err := h.log.Put(ctx, h.room, msgKey(m.Timestamp, m.MessageID), value); err != nil {
		log.Error().Err(err).Str("module", "core.history").Str("room", string(h.room)).Str("message_id", m.MessageID).Msg("durable write failed, message will not survive restart")
	}
	h.buf = append(h.buf, m)
	if len(h.buf) > h.cap {
		h.buf = h.buf[len(h.buf)-h.cap:]
	}
}

// Recent returns the buffered messages oldest first.
func (h *history) Recent() []domain.Message {
	out := make([]domain.Message, len(h.buf))
	copy(out, h.buf)
	return out
}

// Rehydrate rebuilds the buffer from the durable log: reverse scan limited to
// cap entries, then re-sorted ascending. Called once before the coordinator
// starts processing events.
func (h *history) Rehydrate(ctx context.Context) error {
	entries, err := h.log.ScanReverse(ctx, h.room, msgPrefix, h.cap)
	if err != nil {
		return fmt.Errorf("rehydrate %s: %w", h.room, err)
	}
	h.buf = h.buf[:0]
	for _, e := range entries {
		m, err := domain.DecodeMessage(e.Value)
		if err != nil {
			log.Warn().Err(err).Str("module", "core.history").Str("room", string(h.room)).Str("key", e.Key).Msg("skipping undecodable entry")
			continue
		}
		h.buf = append(h.buf, m)
	}
	sort.Slice(h.buf, func(i, j int) bool {
		if h.buf[i].Timestamp != h.buf[j].Timestamp {
			return h.buf[i].Timestamp < h.buf[j].Timestamp
		}
		return h.buf[i].MessageID < h.buf[j].MessageID
	})
	log.Info().Str("module", "core.history").Str("room", string(h.room)).Int("messages", len(h.buf)).Msg("rehydrated")
	return nil
}

// Truncate drops the whole durable log and clears the buffer to match. The
// log exists only for post-restart rehydration, so full truncation on the
// eviction sweep is acceptable.
func (h *history) Truncate(ctx context.Context) error {
	if err := h.log.DeletePrefix(ctx, h.room, msgPrefix); err != nil {
		return fmt.Errorf("truncate %s: %w", h.room, err)
	}
	h.buf = h.buf[:0]
	return nil
}

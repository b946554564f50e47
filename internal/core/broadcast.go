package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// broadcaster serializes an event once and fans it out to every channel in
// the presence snapshot. A channel that refuses delivery gets its session
// pruned from the registry as a side effect, so callers must not assume the
// registry is unchanged across a broadcast.
type broadcaster struct {
	presence *presence
}

func (b *broadcaster) Broadcast(event any) PublishResult {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "core.broadcast").Msg("marshal event")
		return PublishResult{}
	}
	res := PublishResult{}
	for _, m := range b.presence.channels() {
		if err := m.channel.TrySend(Frame(data)); err != nil {
			if sess, ok := b.presence.Leave(m.channel); ok {
				res.Dropped = append(res.Dropped, sess)
			}
			log.Warn().Err(err).Str("module", "core.broadcast").Str("user", string(m.session.UserID)).Msg("delivery failed, session pruned")
			continue
		}
		res.SentTo++
	}
	return res
}

// Unicast delivers one event to a single channel, typically the history and
// typing snapshots sent to a freshly joined participant.
func (b *broadcaster) Unicast(ch Channel, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "core.broadcast").Msg("marshal event")
		return err
	}
	return ch.TrySend(Frame(data))
}

package core

import (
	"errors"
	"sync"
	"time"

	"github.com/avdeyev/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrUsernameTaken = errors.New("username taken")
	ErrAlreadyJoined = errors.New("channel already joined")
)

type member struct {
	session domain.Session
	channel Channel
}

// presence is the registry of live sessions for one room, kept in insertion
// order so user-list broadcasts are stable. The coordinator goroutine is the
// only mutator; the mutex exists for the synchronous availability query that
// arrives from HTTP handlers.
type presence struct {
	mu      sync.RWMutex
	room    domain.RoomName
	members []*member
}

func newPresence(room domain.RoomName) *presence {
	return &presence{room: room}
}

// Join re-validates username uniqueness even though the HTTP layer checks
// availability before the upgrade: that check races with concurrent joins and
// this is where the race is closed. Fails without mutating state.
func (p *presence) Join(ch Channel, userID domain.UserID, username string, now time.Time) (domain.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		if m.channel == ch {
			return domain.Session{}, ErrAlreadyJoined
		}
		if m.session.Username == username {
			return domain.Session{}, ErrUsernameTaken
		}
	}
	sess := domain.NewSession(userID, username, now)
	p.members = append(p.members, &member{session: sess, channel: ch})
	log.Info().Str("module", "core.presence").Str("room", string(p.room)).Str("user", string(userID)).Str("username", username).Msg("session joined")
	return sess, nil
}

// Leave is idempotent: removing an unknown channel is a no-op.
func (p *presence) Leave(ch Channel) (domain.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.members {
		if m.channel == ch {
			p.members = append(p.members[:i], p.members[i+1:]...)
			log.Info().Str("module", "core.presence").Str("room", string(p.room)).Str("user", string(m.session.UserID)).Msg("session left")
			return m.session, true
		}
	}
	return domain.Session{}, false
}

// SessionOf resolves the session bound to a channel, if any.
func (p *presence) SessionOf(ch Channel) (domain.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.members {
		if m.channel == ch {
			return m.session, true
		}
	}
	return domain.Session{}, false
}

func (p *presence) HasUsername(username string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.members {
		if m.session.Username == username {
			return true
		}
	}
	return false
}

// Snapshot returns sessions in insertion order.
func (p *presence) Snapshot() []domain.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Session, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m.session)
	}
	return out
}

// channels returns the live delivery targets at call time.
func (p *presence) channels() []*member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*member, len(p.members))
	copy(out, p.members)
	return out
}

func (p *presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

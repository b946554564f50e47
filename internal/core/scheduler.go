package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avdeyev/parley/internal/domain"
)

const rearmAttempts = 3

// evictor drives the recurring eviction wake-up. The schedule itself lives in
// the AlarmStore so a restart resumes an already-pending wake-up instead of
// creating a duplicate or drifting one.
type evictor struct {
	room     domain.RoomName
	alarms   AlarmStore
	interval time.Duration
	wake     func(ctx context.Context) (time.Time, bool)
}

// Start arms the alarm idempotently and launches the timer loop. If an alarm
// is already pending its time wins over now+interval.
func (e *evictor) Start(ctx context.Context) error {
	at, err := e.alarms.Arm(ctx, e.room, time.Now().Add(e.interval))
	if err != nil {
		return err
	}
	go e.loop(ctx, at)
	return nil
}

func (e *evictor) loop(ctx context.Context, at time.Time) {
	timer := time.NewTimer(time.Until(at))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next, ok := e.wake(ctx)
			if !ok {
				return
			}
			timer.Reset(time.Until(next))
		}
	}
}

// Rearm persists the next wake-up. A room that silently stops evicting would
// grow its durable log forever, so failures are retried and the final failure
// is logged at error level; the in-process timer keeps running off the
// returned time regardless, so eviction continues while this process lives.
func (e *evictor) Rearm(ctx context.Context, now time.Time) time.Time {
	next := now.Add(e.interval)
	var err error
	for attempt := 1; attempt <= rearmAttempts; attempt++ {
		if err = e.alarms.Reset(ctx, e.room, next); err == nil {
			return next
		}
		log.Warn().Err(err).Str("module", "core.evictor").Str("room", string(e.room)).Int("attempt", attempt).Msg("alarm re-arm failed")
		select {
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		case <-ctx.Done():
			return next
		}
	}
	log.Error().Err(err).Str("module", "core.evictor").Str("room", string(e.room)).Msg("alarm re-arm exhausted retries, schedule not durable")
	return next
}

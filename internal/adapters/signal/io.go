package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/parley/internal/core"
	"github.com/avdeyev/parley/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *ChatWSController) writePump(ctx context.Context, cancel context.CancelFunc, c *ChatConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *ChatWSController) readPump(ctx context.Context, cancel context.CancelFunc, room *core.Room, c *ChatConn) {
	defer func() {
		// Abrupt close and clean close converge on the same coordinator path.
		room.NotifyDisconnect(c)
		c.Close()
		cancel()
		log.Info().Str("module", "signal").Str("room", string(room.Name)).Msg("readPump closing")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(room, c, data)
		}
	}
}

// handleFrame answers keepalives locally and rate-limits sends before the
// frame ever reaches the coordinator mailbox.
func (ctl *ChatWSController) handleFrame(room *core.Room, c *ChatConn, data []byte) {
	if string(data) == "ping" {
		// App-level keepalive, answered without waking the coordinator.
		_ = c.TrySend(core.Frame("pong"))
		return
	}

	var env struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		// The coordinator would drop it anyway; rejecting here saves a
		// mailbox round-trip. The connection stays open either way.
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	if env.Type == domain.EventMessage && !ctl.limiter.Allow(env.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(env.UserID)).Msg("message rate limit exceeded")
		b, _ := json.Marshal(domain.NewEventErr("rate_limited", time.Now()))
		_ = c.TrySend(core.Frame(b))
		return
	}

	room.Deliver(c, data)
}

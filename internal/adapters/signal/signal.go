// Package signal adapts websocket connections to room coordinator channels.
// It owns the sockets and their pump goroutines; the coordinator only ever
// sees the Channel interface.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/parley/internal/config"
	"github.com/avdeyev/parley/internal/core"
	"github.com/avdeyev/parley/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type ChatWSController struct {
	Rooms   *core.RoomManager
	Cfg     *config.Config
	limiter *MessageRateLimiter
}

func NewChatWSController(rooms *core.RoomManager, cfg *config.Config) *ChatWSController {
	return &ChatWSController{
		Rooms:   rooms,
		Cfg:     cfg,
		limiter: NewMessageRateLimiter(cfg.MsgRateLimit, cfg.MsgRateInterval),
	}
}

// ChatConn implements core.Channel over a gorilla websocket. Sends go through
// a buffered channel drained by writePump; a full buffer surfaces as
// ErrBackpressure, and the coordinator prunes the session.
type ChatConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *ChatConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *ChatConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleChat upgrades the request and binds the connection to its room. The
// participant is not present in the room until a join frame arrives.
func (ctl *ChatWSController) HandleChat(ctx context.Context, c *gin.Context) {
	roomName := domain.RoomName(c.Param("room"))
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("room", string(roomName)).Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &ChatConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}
	room := ctl.Rooms.GetOrCreate(roomName)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, room, conn)
}

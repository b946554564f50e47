package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client event kinds.
const (
	EventJoin          = "join"
	EventLeave         = "leave"
	EventMessage       = "message"
	EventTyping        = "typing"
	EventStoppedTyping = "stopped_typing"
)

// Server event kinds.
const (
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventRecentMessages = "recent_messages"
	EventTypingUpdate   = "typing_update"
	EventError          = "error"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEmptyContent     = errors.New("message content empty")
)

// ClientEvent is the inbound frame shape. All kinds share the base fields;
// message additionally carries content and an optional client-chosen id.
type ClientEvent struct {
	Type      string `json:"type"`
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId,omitempty"`
	Content   string `json:"content,omitempty"`
}

// DecodeClientEvent parses and validates an inbound frame. A failure here is
// MalformedInput: the caller logs and drops the frame, nothing else happens.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ClientEvent{}, fmt.Errorf("decode client event: %w", err)
	}
	switch ev.Type {
	case EventJoin, EventLeave, EventTyping, EventStoppedTyping:
	case EventMessage:
		if ev.Content == "" {
			return ClientEvent{}, ErrEmptyContent
		}
	default:
		return ClientEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	if ev.UserID == "" {
		return ClientEvent{}, errors.New("missing userId")
	}
	if err := ValidateUsername(ev.Username); err != nil {
		return ClientEvent{}, err
	}
	return ev, nil
}

// Server events. Field names follow the wire contract, camelCase throughout.

type UserJoined struct {
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
	UserID    UserID    `json:"userId"`
	Username  string    `json:"username"`
	Users     []Session `json:"users"`
}

type UserLeft struct {
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
	UserID    UserID    `json:"userId"`
	Username  string    `json:"username"`
	Users     []Session `json:"users"`
}

type ChatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
}

type RecentMessages struct {
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

type TypingUpdate struct {
	Type        string   `json:"type"`
	Timestamp   int64    `json:"timestamp"`
	UsersTyping []string `json:"usersTyping"`
}

type EventErr struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error"`
}

func NewUserJoined(s Session, users []Session, now time.Time) UserJoined {
	return UserJoined{Type: EventUserJoined, Timestamp: now.UnixMilli(), UserID: s.UserID, Username: s.Username, Users: users}
}

func NewUserLeft(s Session, users []Session, now time.Time) UserLeft {
	return UserLeft{Type: EventUserLeft, Timestamp: now.UnixMilli(), UserID: s.UserID, Username: s.Username, Users: users}
}

func NewChatMessage(m Message) ChatMessage {
	return ChatMessage{Type: EventMessage, Timestamp: m.Timestamp, UserID: m.UserID, Username: m.Username, Content: m.Content}
}

func NewRecentMessages(msgs []Message, now time.Time) RecentMessages {
	return RecentMessages{Type: EventRecentMessages, Timestamp: now.UnixMilli(), Messages: msgs}
}

func NewTypingUpdate(usernames []string, now time.Time) TypingUpdate {
	return TypingUpdate{Type: EventTypingUpdate, Timestamp: now.UnixMilli(), UsersTyping: usernames}
}

func NewEventErr(reason string, now time.Time) EventErr {
	return EventErr{Type: EventError, Timestamp: now.UnixMilli(), Error: reason}
}

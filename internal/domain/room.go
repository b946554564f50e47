package domain

import "time"

type RoomName string

// Session binds a connected channel to an identity for the lifetime of the
// connection. JoinedAt is wire-visible; the channel handle itself never is.
type Session struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAt"`
}

func NewSession(userID UserID, username string, now time.Time) Session {
	return Session{UserID: userID, Username: username, JoinedAt: now.UnixMilli()}
}

package domain

import "encoding/json"

// Message is immutable once created. Username is a snapshot taken at send
// time; it is never re-resolved against the live presence set.
type Message struct {
	MessageID string `json:"messageId"`
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

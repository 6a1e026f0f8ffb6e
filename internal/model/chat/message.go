package chat

import (
	"sort"
	"strings"
	"time"
)

// Message is one direct-message frame. The JSON shape is shared by the
// history endpoint and the live channel in both directions.
type Message struct {
	ID         string    `json:"id,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
	Body       string    `json:"message"`
}

// Involves reports whether userID is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}

// Partner returns the other participant from userID's point of view.
func (m Message) Partner(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// SameAs matches redelivered frames. Ids win when both sides carry one.
func (m Message) SameAs(other Message) bool {
	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}
	return m.SenderID == other.SenderID &&
		m.ReceiverID == other.ReceiverID &&
		m.Timestamp.Equal(other.Timestamp) &&
		m.Body == other.Body
}

// Valid reports whether the frame carries both participants.
func (m Message) Valid() bool {
	return strings.TrimSpace(m.SenderID) != "" && strings.TrimSpace(m.ReceiverID) != ""
}

// SortByTimestamp orders messages ascending by timestamp, keeping arrival
// order for equal timestamps.
func SortByTimestamp(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

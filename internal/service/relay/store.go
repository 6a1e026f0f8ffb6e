// Package relay holds the development relay's state: stored messages,
// issued tokens and live connections.
package relay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zhouzirui/dmchat/internal/model/chat"
)

var (
	ErrSenderMismatch = errors.New("senderId mismatch")
	ErrSelfSend       = errors.New("cannot send message to yourself")
	ErrMissingPeer    = errors.New("receiverId is required")
)

// Conversation is one partner in a user's recency list.
type Conversation struct {
	OtherID       string
	LastTimestamp time.Time
}

// MessageStore keeps every relayed message in memory, indexed by participant.
type MessageStore struct {
	mu     sync.RWMutex
	byUser map[string][]chat.Message
	now    func() time.Time
}

// NewMessageStore bootstraps an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byUser: make(map[string][]chat.Message),
		now:    time.Now,
	}
}

// Append stamps msg with an id and the server clock and stores it.
func (s *MessageStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	if strings.TrimSpace(msg.ReceiverID) == "" {
		return chat.Message{}, ErrMissingPeer
	}
	if msg.SenderID == msg.ReceiverID {
		return chat.Message{}, ErrSelfSend
	}

	msg.ID = ulid.Make().String()
	msg.Timestamp = s.now().UTC()

	s.mu.Lock()
	s.byUser[msg.SenderID] = append(s.byUser[msg.SenderID], msg)
	s.byUser[msg.ReceiverID] = append(s.byUser[msg.ReceiverID], msg)
	s.mu.Unlock()

	return msg, nil
}

// History returns the last limit messages between me and other, oldest first.
func (s *MessageStore) History(_ context.Context, me, other string, limit int) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Message
	for _, msg := range s.byUser[me] {
		if msg.Partner(me) == other {
			out = append(out, msg)
		}
	}
	chat.SortByTimestamp(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []chat.Message{}
	}
	return out
}

// Recent groups me's messages by partner, newest conversation first.
func (s *MessageStore) Recent(_ context.Context, me string, limit int) []Conversation {
	s.mu.RLock()
	latest := make(map[string]time.Time)
	for _, msg := range s.byUser[me] {
		other := msg.Partner(me)
		if ts, ok := latest[other]; !ok || msg.Timestamp.After(ts) {
			latest[other] = msg.Timestamp
		}
	}
	s.mu.RUnlock()

	out := make([]Conversation, 0, len(latest))
	for id, ts := range latest {
		out = append(out, Conversation{OtherID: id, LastTimestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTimestamp.Equal(out[j].LastTimestamp) {
			return out[i].OtherID < out[j].OtherID
		}
		return out[i].LastTimestamp.After(out[j].LastTimestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

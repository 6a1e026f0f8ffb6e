package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/metrics"
	"github.com/zhouzirui/dmchat/internal/model/chat"
)

// Outbox is one connected client as seen by the hub.
type Outbox interface {
	Deliver(msg chat.Message) error
}

// Hub tracks the live connection of each user. A newer connection for the
// same user replaces the older one.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Outbox
	store  *MessageStore
	logger zerolog.Logger
}

// NewHub creates a hub persisting through store.
func NewHub(store *MessageStore, logger zerolog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]Outbox),
		store:  store,
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Register attaches out for userID. The returned func detaches it unless it
// has been replaced in the meantime.
func (h *Hub) Register(userID string, out Outbox) func() {
	h.mu.Lock()
	h.conns[userID] = out
	h.mu.Unlock()
	metrics.RelayConnections.Inc()

	return func() {
		h.mu.Lock()
		if h.conns[userID] == out {
			delete(h.conns, userID)
		}
		h.mu.Unlock()
		metrics.RelayConnections.Dec()
	}
}

// Online reports whether userID has a live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Submit validates msg from an authenticated sender, stores it and pushes it
// to the recipient. The caller echoes the returned message to the sender.
func (h *Hub) Submit(ctx context.Context, from string, msg chat.Message) (chat.Message, error) {
	if msg.SenderID != from {
		metrics.RelayFrames.WithLabelValues("rejected").Inc()
		return chat.Message{}, ErrSenderMismatch
	}

	saved, err := h.store.Append(ctx, msg)
	if err != nil {
		metrics.RelayFrames.WithLabelValues("rejected").Inc()
		return chat.Message{}, err
	}

	h.mu.RLock()
	recipient, online := h.conns[saved.ReceiverID]
	h.mu.RUnlock()

	if online {
		if err := recipient.Deliver(saved); err != nil {
			h.logger.Warn().Err(err).Str("receiver", saved.ReceiverID).Msg("deliver failed")
		}
	}
	metrics.RelayFrames.WithLabelValues("delivered").Inc()
	return saved, nil
}

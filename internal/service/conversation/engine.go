// Package conversation is the client-side state engine. It reconciles
// fetched history, the live push stream, per-peer caches and unread counters
// into one view for the single open conversation.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/metrics"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/live"
	"github.com/zhouzirui/dmchat/internal/service/remote"
)

const (
	defaultHistoryLimit = 200
	defaultRecentLimit  = 20
)

// Resolver maps an email or id to a canonical peer.
type Resolver interface {
	Resolve(ctx context.Context, req remote.ResolveRequest) (chat.Peer, error)
}

// HistoryFetcher returns recent messages with a peer in any order.
type HistoryFetcher interface {
	History(ctx context.Context, peerID string, limit int) ([]chat.Message, error)
}

// RecencyIndex lists the caller's recent conversations.
type RecencyIndex interface {
	Recent(ctx context.Context, limit int) ([]chat.ConversationSummary, error)
}

// Link is one established live connection.
type Link interface {
	OnMessage(h live.Handler)
	Send(msg chat.Message) error
	Done() <-chan struct{}
	Err() error
}

// Transport opens and closes the live connection. Connect returns the
// existing link when one is already open.
type Transport interface {
	Connect(ctx context.Context) (Link, error)
	Close() error
}

// Listener observes view changes. Views carry a Version; consumers should
// ignore a view older than one they have already rendered.
type Listener interface {
	ViewChanged(v View)
	ScrollToLatest(peerID string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnView   func(View)
	OnScroll func(peerID string)
}

func (l ListenerFuncs) ViewChanged(v View) {
	if l.OnView != nil {
		l.OnView(v)
	}
}

func (l ListenerFuncs) ScrollToLatest(peerID string) {
	if l.OnScroll != nil {
		l.OnScroll(peerID)
	}
}

// Config wires the engine to its collaborators.
type Config struct {
	Identity     identity.Provider
	Resolver     Resolver
	History      HistoryFetcher
	Recency      RecencyIndex
	Transport    Transport
	Listener     Listener
	Logger       *zerolog.Logger
	HistoryLimit int
	RecentLimit  int
	// Reconnect enables retries after a transport failure. Nil keeps the
	// channel closed until the next explicit Connect.
	Reconnect *live.RetryPolicy
	Now       func() time.Time
}

// View is a snapshot of the state rendered for the user.
type View struct {
	Version        uint64
	Me             string
	OpenPeer       chat.Peer
	Messages       []chat.Message
	ConnectionOpen bool
	Draft          string
	Recent         []chat.ConversationSummary
	Unread         map[string]int
	Err            error
}

type peerEntry struct {
	messages []chat.Message
	unread   int
}

// Engine owns all conversation state. It is safe for concurrent use.
type Engine struct {
	identity     identity.Provider
	resolver     Resolver
	history      HistoryFetcher
	recency      RecencyIndex
	transport    Transport
	listener     Listener
	logger       zerolog.Logger
	historyLimit int
	recentLimit  int
	reconnect    *live.RetryPolicy
	now          func() time.Time

	mu          sync.Mutex
	peers       map[string]*peerEntry
	generations map[string]uint64
	openSeq     uint64
	openPeer    chat.Peer
	displayed   []chat.Message
	draft       string
	recent      []chat.ConversationSummary
	lastErr     error
	link        Link
	cancelRetry context.CancelFunc
	retryGen    uint64
	version     uint64
}

// New creates an engine with no open peer and a closed channel.
func New(cfg Config) *Engine {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	recentLimit := cfg.RecentLimit
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		identity:     cfg.Identity,
		resolver:     cfg.Resolver,
		history:      cfg.History,
		recency:      cfg.Recency,
		transport:    cfg.Transport,
		listener:     cfg.Listener,
		logger:       logger.With().Str("component", "conversation").Logger(),
		historyLimit: historyLimit,
		recentLimit:  recentLimit,
		reconnect:    cfg.Reconnect,
		now:          now,
		peers:        make(map[string]*peerEntry),
		generations:  make(map[string]uint64),
	}
}

// View returns the current snapshot.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Unread returns the unread counter for peerID.
func (e *Engine) Unread(peerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.peers[peerID]; ok {
		return entry.unread
	}
	return 0
}

// Cached returns a copy of the peer cache for peerID.
func (e *Engine) Cached(peerID string) []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.peers[peerID]; ok {
		return cloneMessages(entry.messages)
	}
	return nil
}

// route applies one inbound message delivered on link.
func (e *Engine) route(link Link, msg chat.Message) {
	me, ok := e.identity.UserID()

	e.mu.Lock()
	if e.link != link {
		e.mu.Unlock()
		return
	}
	if !ok || !msg.Involves(me) {
		e.mu.Unlock()
		metrics.InboundMessages.WithLabelValues("foreign").Inc()
		e.logger.Debug().Str("sender", msg.SenderID).Str("receiver", msg.ReceiverID).Msg("drop message for another user")
		return
	}

	partner := msg.Partner(me)
	entry := e.entryLocked(partner)
	for _, existing := range entry.messages {
		if existing.SameAs(msg) {
			e.mu.Unlock()
			metrics.InboundMessages.WithLabelValues("duplicate").Inc()
			return
		}
	}

	entry.messages = append(entry.messages, msg)
	chat.SortByTimestamp(entry.messages)

	open := partner == e.openPeer.ID
	if open {
		e.displayed = cloneMessages(entry.messages)
		metrics.InboundMessages.WithLabelValues("displayed").Inc()
	} else {
		entry.unread++
		metrics.InboundMessages.WithLabelValues("unread").Inc()
	}
	view := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(view)
	if open {
		e.scroll(partner)
	}
}

func (e *Engine) entryLocked(peerID string) *peerEntry {
	entry, ok := e.peers[peerID]
	if !ok {
		entry = &peerEntry{}
		e.peers[peerID] = entry
	}
	return entry
}

func (e *Engine) snapshotLocked() View {
	e.version++
	me, _ := e.identity.UserID()

	unread := make(map[string]int, len(e.peers))
	for id, entry := range e.peers {
		if entry.unread > 0 {
			unread[id] = entry.unread
		}
	}

	recent := make([]chat.ConversationSummary, len(e.recent))
	copy(recent, e.recent)

	return View{
		Version:        e.version,
		Me:             me,
		OpenPeer:       e.openPeer,
		Messages:       cloneMessages(e.displayed),
		ConnectionOpen: e.link != nil,
		Draft:          e.draft,
		Recent:         recent,
		Unread:         unread,
		Err:            e.lastErr,
	}
}

func (e *Engine) publish(v View) {
	if e.listener != nil {
		e.listener.ViewChanged(v)
	}
}

func (e *Engine) scroll(peerID string) {
	if e.listener != nil {
		e.listener.ScrollToLatest(peerID)
	}
}

// fail records err in the single error slot and publishes the view.
func (e *Engine) fail(err *Error) error {
	e.mu.Lock()
	e.lastErr = err
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)
	return err
}

func cloneMessages(in []chat.Message) []chat.Message {
	if in == nil {
		return nil
	}
	out := make([]chat.Message, len(in))
	copy(out, in)
	return out
}

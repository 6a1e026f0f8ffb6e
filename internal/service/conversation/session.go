package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/metrics"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/live"
	"github.com/zhouzirui/dmchat/internal/service/remote"
)

// OpenByEmail resolves email and opens the conversation with the result.
func (e *Engine) OpenByEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return e.fail(ErrNoPeer)
	}

	e.mu.Lock()
	e.lastErr = nil
	e.openSeq++
	seq := e.openSeq
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)

	return e.resolveAndLoad(ctx, seq, remote.ResolveRequest{Email: email})
}

// OpenConversation selects summary's partner, resets its unread counter and
// reloads its history.
func (e *Engine) OpenConversation(ctx context.Context, summary chat.ConversationSummary) error {
	peerID := strings.TrimSpace(summary.OtherID)
	if peerID == "" {
		return e.fail(ErrNoPeer)
	}

	e.mu.Lock()
	e.lastErr = nil
	e.openSeq++
	seq := e.openSeq
	e.openLocked(chat.Peer{ID: peerID, Label: summary.OtherLabel})
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)

	return e.resolveAndLoad(ctx, seq, remote.ResolveRequest{PeerID: peerID})
}

// LoadHistory reloads the open conversation.
func (e *Engine) LoadHistory(ctx context.Context) error {
	e.mu.Lock()
	peer := e.openPeer
	if peer.ID == "" {
		e.mu.Unlock()
		return e.fail(ErrNoPeer)
	}
	e.lastErr = nil
	seq := e.openSeq
	gen := e.nextGenerationLocked(peer.ID)
	e.mu.Unlock()

	return e.load(ctx, seq, peer.ID, gen)
}

// openLocked switches the open peer. The unread counter is reset and the
// display mirrors whatever is cached until history arrives.
func (e *Engine) openLocked(peer chat.Peer) {
	e.openPeer = peer
	if entry, ok := e.peers[peer.ID]; ok {
		entry.unread = 0
		e.displayed = cloneMessages(entry.messages)
	} else {
		e.displayed = nil
	}
}

func (e *Engine) nextGenerationLocked(peerID string) uint64 {
	e.generations[peerID]++
	return e.generations[peerID]
}

func (e *Engine) resolveAndLoad(ctx context.Context, seq uint64, req remote.ResolveRequest) error {
	peer, err := e.resolver.Resolve(ctx, req)

	e.mu.Lock()
	if seq != e.openSeq {
		e.mu.Unlock()
		e.logger.Debug().Str("email", req.Email).Str("peer", req.PeerID).Msg("discard superseded resolve")
		return nil
	}
	if err != nil {
		classified := classifyResolve(err)
		e.lastErr = classified
		view := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(view)
		return classified
	}

	if peer.Label == "" {
		if req.Email != "" {
			peer.Label = req.Email
		} else if e.openPeer.ID == peer.ID {
			peer.Label = e.openPeer.Label
		}
	}
	if e.openPeer.ID != peer.ID {
		e.openLocked(peer)
	} else {
		e.openPeer.Label = peer.Label
	}
	gen := e.nextGenerationLocked(peer.ID)
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)

	return e.load(ctx, seq, peer.ID, gen)
}

func (e *Engine) load(ctx context.Context, seq uint64, peerID string, gen uint64) error {
	msgs, err := e.history.History(ctx, peerID, e.historyLimit)

	e.mu.Lock()
	if gen != e.generations[peerID] || seq != e.openSeq || e.openPeer.ID != peerID {
		e.mu.Unlock()
		metrics.HistoryLoads.WithLabelValues("stale").Inc()
		e.logger.Debug().Str("peer", peerID).Uint64("generation", gen).Msg("discard stale history")
		return nil
	}
	if err != nil {
		classified := classifyLoad(err)
		e.lastErr = classified
		view := e.snapshotLocked()
		e.mu.Unlock()
		metrics.HistoryLoads.WithLabelValues("failed").Inc()
		e.publish(view)
		return classified
	}

	sorted := make([]chat.Message, len(msgs))
	copy(sorted, msgs)
	chat.SortByTimestamp(sorted)

	entry := e.entryLocked(peerID)
	entry.messages = sorted
	entry.unread = 0
	e.displayed = cloneMessages(sorted)
	e.lastErr = nil
	view := e.snapshotLocked()
	e.mu.Unlock()

	metrics.HistoryLoads.WithLabelValues("applied").Inc()
	e.publish(view)
	e.scroll(peerID)
	return nil
}

// Connect opens the live channel and starts routing inbound messages. It
// does not load history.
func (e *Engine) Connect(ctx context.Context) error {
	return e.connect(ctx, true)
}

// ResolveAndConnect loads the conversation for email (or reloads the open
// one when email is blank) and then connects. A failed load is recorded but
// does not prevent connecting.
func (e *Engine) ResolveAndConnect(ctx context.Context, email string) error {
	var loadErr error
	if strings.TrimSpace(email) != "" {
		loadErr = e.OpenByEmail(ctx, email)
	} else {
		loadErr = e.LoadHistory(ctx)
	}

	if err := e.connect(ctx, loadErr == nil); err != nil {
		return err
	}
	return loadErr
}

func (e *Engine) connect(ctx context.Context, clearErr bool) error {
	if _, ok := e.identity.UserID(); !ok {
		return e.fail(ErrNotLoggedIn)
	}

	link, err := e.transport.Connect(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrNotLoggedIn) {
			return e.fail(wrap(ErrNotLoggedIn, err))
		}
		return e.fail(wrap(ErrConnectFailed, err))
	}
	e.attach(link, clearErr)
	return nil
}

// attach makes link the session's connection. Attaching the current link
// again is a no-op.
func (e *Engine) attach(link Link, clearErr bool) {
	e.mu.Lock()
	if e.link == link {
		e.mu.Unlock()
		return
	}
	e.link = link
	if clearErr {
		e.lastErr = nil
	}
	view := e.snapshotLocked()
	e.mu.Unlock()

	link.OnMessage(func(msg chat.Message) {
		e.route(link, msg)
	})
	go e.watch(link)

	e.logger.Info().Msg("live channel attached")
	e.publish(view)
}

func (e *Engine) watch(link Link) {
	<-link.Done()
	cause := link.Err()

	e.mu.Lock()
	if e.link != link {
		e.mu.Unlock()
		return
	}
	e.link = nil
	var retryCtx context.Context
	var gen uint64
	if cause != nil && e.reconnect != nil {
		if e.cancelRetry != nil {
			e.cancelRetry()
		}
		var cancel context.CancelFunc
		retryCtx, cancel = context.WithCancel(context.Background())
		e.cancelRetry = cancel
		e.retryGen++
		gen = e.retryGen
	}
	view := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(view)
	if retryCtx == nil {
		return
	}
	e.logger.Warn().Err(cause).Msg("live channel dropped, reconnecting")
	e.retryConnect(retryCtx, gen)
}

func (e *Engine) retryConnect(ctx context.Context, gen uint64) {
	link, err := live.ConnectWithRetry(ctx, e.transport.Connect, *e.reconnect)

	e.mu.Lock()
	cancelled := ctx.Err() != nil
	if e.retryGen == gen && e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	e.mu.Unlock()

	if cancelled {
		return
	}
	if err != nil {
		e.fail(wrap(ErrConnectFailed, err))
		return
	}
	e.attach(link, true)
}

// SetDraft replaces the composer text.
func (e *Engine) SetDraft(text string) {
	e.mu.Lock()
	e.draft = text
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)
}

// Send transmits the draft to the open peer. The message is not added to
// any cache; it appears once the relay echoes it back.
func (e *Engine) Send() error {
	me, loggedIn := e.identity.UserID()

	e.mu.Lock()
	link := e.link
	peer := e.openPeer
	draft := e.draft

	var precondition *Error
	switch {
	case link == nil:
		precondition = ErrNotOpen
	case !loggedIn:
		precondition = ErrNotLoggedIn
	case peer.ID == "":
		precondition = ErrNoPeer
	case peer.ID == me:
		precondition = ErrSelfChat
	case strings.TrimSpace(draft) == "":
		precondition = ErrEmptyDraft
	}
	if precondition != nil {
		e.lastErr = precondition
		view := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(view)
		return precondition
	}
	e.mu.Unlock()

	msg := chat.Message{
		SenderID:   me,
		ReceiverID: peer.ID,
		Timestamp:  e.now().UTC(),
		Body:       draft,
	}
	if err := link.Send(msg); err != nil {
		return e.fail(wrap(ErrNotOpen, err))
	}
	metrics.MessagesSent.Inc()

	e.mu.Lock()
	if e.draft == draft {
		e.draft = ""
	}
	e.lastErr = nil
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)
	return nil
}

// RefreshRecent reloads the recency list. Failures leave the error slot
// untouched.
func (e *Engine) RefreshRecent(ctx context.Context) error {
	items, err := e.recency.Recent(ctx, e.recentLimit)
	if err != nil {
		e.logger.Debug().Err(err).Msg("refresh recent failed")
		return err
	}

	e.mu.Lock()
	e.recent = items
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)
	return nil
}

// Disconnect closes the live channel. No reconnect follows.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	hadLink := e.link != nil
	e.link = nil
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	view := e.snapshotLocked()
	e.mu.Unlock()

	err := e.transport.Close()
	if hadLink {
		e.publish(view)
	}
	return err
}

// Logout closes the channel, signs out and drops all session state.
func (e *Engine) Logout() error {
	err := e.Disconnect()
	if so, ok := e.identity.(identity.SignOuter); ok {
		so.SignOut()
	}

	e.mu.Lock()
	e.peers = make(map[string]*peerEntry)
	e.generations = make(map[string]uint64)
	e.openSeq++
	e.openPeer = chat.Peer{}
	e.displayed = nil
	e.draft = ""
	e.recent = nil
	e.lastErr = nil
	view := e.snapshotLocked()
	e.mu.Unlock()
	e.publish(view)
	return err
}

// LiveTransport adapts a live channel to Transport.
func LiveTransport(ch *live.Channel) Transport {
	return liveTransport{ch: ch}
}

type liveTransport struct {
	ch *live.Channel
}

func (t liveTransport) Connect(ctx context.Context) (Link, error) {
	conn, err := t.ch.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t liveTransport) Close() error {
	return t.ch.Close()
}

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/live"
	"github.com/zhouzirui/dmchat/internal/service/remote"
)

const (
	alice = "u-alice"
	bob   = "u-bob"
	carol = "u-carol"
	dave  = "u-dave"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func msg(from, to string, sec int, body string) chat.Message {
	return chat.Message{SenderID: from, ReceiverID: to, Timestamp: base.Add(time.Duration(sec) * time.Second), Body: body}
}

type fakeResolver struct {
	mu      sync.Mutex
	me      string
	byEmail map[string]chat.Peer
	err     error
	calls   []remote.ResolveRequest
}

func (r *fakeResolver) Resolve(_ context.Context, req remote.ResolveRequest) (chat.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if r.err != nil {
		return chat.Peer{}, r.err
	}
	if req.PeerID != "" {
		if req.PeerID == r.me {
			return chat.Peer{}, &remote.ResolveError{Code: remote.CodeSelf, Status: 400}
		}
		return chat.Peer{ID: req.PeerID}, nil
	}
	peer, ok := r.byEmail[req.Email]
	if !ok {
		return chat.Peer{}, &remote.ResolveError{Code: remote.CodeNotFound, Status: 404}
	}
	if peer.ID == r.me {
		return chat.Peer{}, &remote.ResolveError{Code: remote.CodeSelf, Status: 400}
	}
	return peer, nil
}

func (r *fakeResolver) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type fakeHistory struct {
	mu     sync.Mutex
	byPeer map[string][]chat.Message
	errs   map[string]error
	gates  map[string]chan struct{}
	calls  int
}

func (h *fakeHistory) History(_ context.Context, peerID string, _ int) ([]chat.Message, error) {
	h.mu.Lock()
	h.calls++
	gate := h.gates[peerID]
	h.mu.Unlock()

	if gate != nil {
		<-gate
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.errs[peerID]; err != nil {
		return nil, err
	}
	return cloneMessages(h.byPeer[peerID]), nil
}

func (h *fakeHistory) set(peerID string, msgs ...chat.Message) {
	h.mu.Lock()
	h.byPeer[peerID] = msgs
	h.mu.Unlock()
}

func (h *fakeHistory) fail(peerID string, err error) {
	h.mu.Lock()
	h.errs[peerID] = err
	h.mu.Unlock()
}

func (h *fakeHistory) block(peerID string) chan struct{} {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gates[peerID] = gate
	h.mu.Unlock()
	return gate
}

func (h *fakeHistory) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakeRecency struct {
	mu    sync.Mutex
	items []chat.ConversationSummary
	err   error
}

func (r *fakeRecency) Recent(_ context.Context, limit int) ([]chat.ConversationSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.items) > limit {
		return r.items[:limit], nil
	}
	return r.items, nil
}

type fakeLink struct {
	mu        sync.Mutex
	handler   live.Handler
	handlers  int
	sent      []chat.Message
	sendErr   error
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{done: make(chan struct{})}
}

func (l *fakeLink) OnMessage(h live.Handler) {
	l.mu.Lock()
	l.handler = h
	l.handlers++
	l.mu.Unlock()
}

func (l *fakeLink) Send(m chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, m)
	return nil
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Err() error { return l.err }

// deliver runs the registered handler synchronously.
func (l *fakeLink) deliver(msgs ...chat.Message) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	for _, m := range msgs {
		h(m)
	}
}

func (l *fakeLink) drop(err error) {
	l.closeOnce.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *fakeLink) sentMessages() []chat.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneMessages(l.sent)
}

func (l *fakeLink) handlerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlers
}

type fakeTransport struct {
	mu         sync.Mutex
	current    *fakeLink
	connectErr error
	failNext   int
	connects   int
	closes     int
}

func (t *fakeTransport) Connect(_ context.Context) (Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	if t.failNext > 0 {
		t.failNext--
		return nil, errors.New("dial refused")
	}
	if t.current != nil {
		select {
		case <-t.current.done:
		default:
			return t.current, nil
		}
	}
	t.current = newFakeLink()
	return t.current, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	if t.current != nil {
		t.current.drop(nil)
		t.current = nil
	}
	return nil
}

func (t *fakeTransport) link() *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type recordingListener struct {
	mu      sync.Mutex
	views   []View
	scrolls []string
}

func (l *recordingListener) ViewChanged(v View) {
	l.mu.Lock()
	l.views = append(l.views, v)
	l.mu.Unlock()
}

func (l *recordingListener) ScrollToLatest(peerID string) {
	l.mu.Lock()
	l.scrolls = append(l.scrolls, peerID)
	l.mu.Unlock()
}

func (l *recordingListener) scrollCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scrolls)
}

type harness struct {
	engine    *Engine
	identity  *identity.Static
	resolver  *fakeResolver
	history   *fakeHistory
	recency   *fakeRecency
	transport *fakeTransport
	listener  *recordingListener
}

func newHarness(t *testing.T, configure ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		identity: identity.NewStatic(alice, "tok"),
		resolver: &fakeResolver{
			me: alice,
			byEmail: map[string]chat.Peer{
				"alice@example.com": {ID: alice, Label: "alice@example.com"},
				"bob@example.com":   {ID: bob, Label: "bob@example.com"},
				"carol@example.com": {ID: carol, Label: "carol@example.com"},
			},
		},
		history:   &fakeHistory{byPeer: map[string][]chat.Message{}, errs: map[string]error{}, gates: map[string]chan struct{}{}},
		recency:   &fakeRecency{},
		transport: &fakeTransport{},
		listener:  &recordingListener{},
	}

	cfg := Config{
		Identity:  h.identity,
		Resolver:  h.resolver,
		History:   h.history,
		Recency:   h.recency,
		Transport: h.transport,
		Listener:  h.listener,
		Now:       func() time.Time { return base.Add(time.Hour) },
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	h.engine = New(cfg)
	return h
}

func (h *harness) connect(t *testing.T) *fakeLink {
	t.Helper()
	if err := h.engine.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	link := h.transport.link()
	if link == nil {
		t.Fatalf("expected a live link")
	}
	return link
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func bodies(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}

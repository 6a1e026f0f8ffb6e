package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/model/user"
	"github.com/zhouzirui/dmchat/internal/service/conversation"
	"github.com/zhouzirui/dmchat/internal/service/live"
	"github.com/zhouzirui/dmchat/internal/service/relay"
	"github.com/zhouzirui/dmchat/internal/service/remote"
)

type relayFixture struct {
	server *httptest.Server
	hub    *relay.Hub
}

func startRelay(t *testing.T) relayFixture {
	t.Helper()
	messages := relay.NewMessageStore()
	hub := relay.NewHub(messages, zerolog.Nop())
	router := NewRouter(Deps{
		Users: user.NewMemoryStore([]user.Account{
			{ID: "u-alice", Email: "alice@example.com", Password: "alice"},
			{ID: "u-bob", Email: "bob@example.com", Password: "bob"},
		}),
		Tokens:   relay.NewTokenStore(0),
		Messages: messages,
		Hub:      hub,
		Logger:   zerolog.Nop(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return relayFixture{server: server, hub: hub}
}

func (f relayFixture) client(t *testing.T, email, password string) *conversation.Engine {
	t.Helper()
	ctx := context.Background()

	id := identity.NewPassword(f.server.URL, email, password)
	if _, err := id.Login(ctx); err != nil {
		t.Fatalf("login %s: %v", email, err)
	}

	api := remote.NewClient(f.server.URL, id)
	if _, err := api.SyncMe(ctx); err != nil {
		t.Fatalf("sync %s: %v", email, err)
	}

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http")
	channel := live.NewChannel(wsURL, id, live.DefaultOptions())
	engine := conversation.New(conversation.Config{
		Identity:  id,
		Resolver:  api,
		History:   api,
		Recency:   api,
		Transport: conversation.LiveTransport(channel),
	})
	t.Cleanup(func() { engine.Disconnect() })
	return engine
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestHealthAndMetrics(t *testing.T) {
	f := startRelay(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(f.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 from %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := startRelay(t)
	resp, err := http.Get(f.server.URL + "/api/conversations/recent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTwoClientsExchangeMessages(t *testing.T) {
	f := startRelay(t)
	ctx := context.Background()
	alice := f.client(t, "alice@example.com", "alice")
	bob := f.client(t, "bob@example.com", "bob")

	if err := bob.Connect(ctx); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	waitFor(t, func() bool { return f.hub.Online("u-bob") }, "bob registered on relay")

	if err := alice.ResolveAndConnect(ctx, "bob@example.com"); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if peer := alice.View().OpenPeer; peer.ID != "u-bob" {
		t.Fatalf("expected bob open, got %+v", peer)
	}

	alice.SetDraft("hello bob")
	if err := alice.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}
	if alice.View().Draft != "" {
		t.Fatalf("expected draft cleared")
	}

	waitFor(t, func() bool { return len(alice.View().Messages) == 1 }, "alice sees relay echo")
	waitFor(t, func() bool { return bob.Unread("u-alice") == 1 }, "bob counts unread")

	if err := bob.OpenByEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("bob open: %v", err)
	}
	view := bob.View()
	if len(view.Messages) != 1 || view.Messages[0].Body != "hello bob" {
		t.Fatalf("unexpected bob history: %+v", view.Messages)
	}
	if bob.Unread("u-alice") != 0 {
		t.Fatalf("expected unread reset after open")
	}

	// Both sides hold the relay-assigned id.
	if got := alice.View().Messages[0].ID; got == "" || got != view.Messages[0].ID {
		t.Fatalf("expected shared stored id, got %q and %q", got, view.Messages[0].ID)
	}

	if err := bob.RefreshRecent(ctx); err != nil {
		t.Fatalf("refresh recent: %v", err)
	}
	recent := bob.View().Recent
	if len(recent) != 1 || recent[0].OtherID != "u-alice" || recent[0].OtherLabel != "alice@example.com" {
		t.Fatalf("unexpected recent list: %+v", recent)
	}
}

func TestOpenSelfIsRejected(t *testing.T) {
	f := startRelay(t)
	alice := f.client(t, "alice@example.com", "alice")

	err := alice.OpenByEmail(context.Background(), "alice@example.com")
	if conversation.CodeOf(err) != conversation.CodeSelf {
		t.Fatalf("expected self classification, got %v", err)
	}
}

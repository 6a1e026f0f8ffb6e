package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/relay"
)

type fixture struct {
	server *httptest.Server
	tokens *relay.TokenStore
	hub    *relay.Hub
}

func setup(t *testing.T) fixture {
	t.Helper()
	tokens := relay.NewTokenStore(0)
	hub := relay.NewHub(relay.NewMessageStore(), zerolog.Nop())

	r := chi.NewRouter()
	New(tokens, hub, nil, zerolog.Nop()).RegisterRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return fixture{server: server, tokens: tokens, hub: hub}
}

func (f fixture) dial(t *testing.T, uid string) *websocket.Conn {
	t.Helper()
	token, _ := f.tokens.Issue(uid)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", uid, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !f.hub.Online(uid) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never registered", uid)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

type frame struct {
	chat.Message
	Error string `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestHandshakeRequiresToken(t *testing.T) {
	f := setup(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestMessageEchoedAndDelivered(t *testing.T) {
	f := setup(t)
	alice := f.dial(t, "u-alice")
	bob := f.dial(t, "u-bob")

	out := chat.Message{SenderID: "u-alice", ReceiverID: "u-bob", Body: "hi bob", Timestamp: time.Unix(0, 0)}
	if err := alice.WriteJSON(out); err != nil {
		t.Fatalf("write: %v", err)
	}

	delivered := readFrame(t, bob)
	echo := readFrame(t, alice)

	if delivered.Error != "" || echo.Error != "" {
		t.Fatalf("unexpected error frames: %+v %+v", delivered, echo)
	}
	if delivered.ID == "" || delivered.ID != echo.ID {
		t.Fatalf("expected both sides to see the stored id, got %q and %q", delivered.ID, echo.ID)
	}
	if delivered.Body != "hi bob" || delivered.SenderID != "u-alice" {
		t.Fatalf("unexpected delivery: %+v", delivered)
	}
	if delivered.Timestamp.Equal(out.Timestamp) {
		t.Fatalf("expected server timestamp to replace client value")
	}
}

func TestRejectedFramesReturnErrors(t *testing.T) {
	f := setup(t)
	alice := f.dial(t, "u-alice")

	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"sender mismatch", `{"senderId":"u-bob","receiverId":"u-carol","message":"x"}`, relay.ErrSenderMismatch.Error()},
		{"self send", `{"senderId":"u-alice","receiverId":"u-alice","message":"x"}`, relay.ErrSelfSend.Error()},
		{"missing receiver", `{"senderId":"u-alice","message":"x"}`, relay.ErrMissingPeer.Error()},
		{"malformed", `not json`, "invalid message payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := alice.WriteMessage(websocket.TextMessage, []byte(tc.payload)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := readFrame(t, alice); got.Error != tc.want {
				t.Fatalf("expected error %q, got %+v", tc.want, got)
			}
		})
	}
}

func TestOfflineRecipientStillEchoes(t *testing.T) {
	f := setup(t)
	alice := f.dial(t, "u-alice")

	if err := alice.WriteJSON(chat.Message{SenderID: "u-alice", ReceiverID: "u-bob", Body: "later"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readFrame(t, alice); got.Body != "later" || got.ID == "" {
		t.Fatalf("unexpected echo: %+v", got)
	}
}

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/dmchat/internal/identity"
)

type countingIdentity struct {
	id     string
	calls  atomic.Int32
	tokens []string
}

func (c *countingIdentity) UserID() (string, bool) { return c.id, c.id != "" }

func (c *countingIdentity) Token(context.Context) (string, error) {
	n := int(c.calls.Add(1))
	if c.id == "" {
		return "", identity.ErrNotLoggedIn
	}
	if n <= len(c.tokens) {
		return c.tokens[n-1], nil
	}
	return "tok", nil
}

func setupServer(t *testing.T, register func(r chi.Router)) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestResolveClassification(t *testing.T) {
	srv := setupServer(t, func(r chi.Router) {
		r.Get("/api/users/resolve", func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("email") {
			case "bob@example.com":
				writeJSON(w, http.StatusOK, `{"uid":"u-bob","email":"bob@example.com"}`)
			case "me@example.com":
				writeJSON(w, http.StatusBadRequest, `{"error":"Cannot start conversation with yourself"}`)
			case "echo@example.com":
				writeJSON(w, http.StatusOK, `{"uid":"u-me","email":"echo@example.com"}`)
			case "weird":
				writeJSON(w, http.StatusBadRequest, `{"error":"Provide email or uid"}`)
			case "broken":
				writeJSON(w, http.StatusBadGateway, `oops`)
			default:
				writeJSON(w, http.StatusNotFound, `{"error":"User not found"}`)
			}
		})
	})

	client := NewClient(srv.URL, &countingIdentity{id: "u-me"})
	ctx := context.Background()

	peer, err := client.Resolve(ctx, ResolveRequest{Email: " bob@example.com "})
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if peer.ID != "u-bob" || peer.Label != "bob@example.com" {
		t.Fatalf("unexpected peer %+v", peer)
	}

	cases := map[string]Code{
		"me@example.com":      CodeSelf,
		"echo@example.com":    CodeSelf,
		"weird":               CodeBadRequest,
		"broken":              CodeResolveFailed,
		"missing@example.com": CodeNotFound,
	}
	for email, want := range cases {
		_, err := client.Resolve(ctx, ResolveRequest{Email: email})
		code, ok := ResolveCode(err)
		if !ok || code != want {
			t.Fatalf("Resolve(%q): got %v (%v), want %s", email, code, err, want)
		}
	}
}

func TestResolveOwnIDIsSelfWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := setupServer(t, func(r chi.Router) {
		r.Get("/api/users/resolve", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			writeJSON(w, http.StatusOK, `{"uid":"u-me"}`)
		})
	})

	client := NewClient(srv.URL, &countingIdentity{id: "u-me"})
	_, err := client.Resolve(context.Background(), ResolveRequest{PeerID: "u-me"})
	if code, _ := ResolveCode(err); code != CodeSelf {
		t.Fatalf("expected SELF, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("self resolution should not reach the directory")
	}
}

func TestResolveEmptyInputIsBadRequest(t *testing.T) {
	client := NewClient("http://unused", &countingIdentity{id: "u-me"})
	_, err := client.Resolve(context.Background(), ResolveRequest{Email: "   "})
	if code, _ := ResolveCode(err); code != CodeBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}

func TestRequestsFetchFreshTokenEachCall(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := setupServer(t, func(r chi.Router) {
		r.Get("/api/messages", func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			mu.Unlock()
			if r.URL.Query().Get("withUser") != "u-bob" || r.URL.Query().Get("limit") != "200" {
				writeJSON(w, http.StatusBadRequest, `{"error":"bad query"}`)
				return
			}
			writeJSON(w, http.StatusOK, `[{"senderId":"u-bob","receiverId":"u-me","timestamp":"2025-01-01T00:00:02Z","message":"b"}]`)
		})
	})

	id := &countingIdentity{id: "u-me", tokens: []string{"first", "second"}}
	client := NewClient(srv.URL, id)

	for i := 0; i < 2; i++ {
		messages, err := client.History(context.Background(), "u-bob", 200)
		if err != nil {
			t.Fatalf("History err: %v", err)
		}
		if len(messages) != 1 || messages[0].Body != "b" {
			t.Fatalf("unexpected messages %+v", messages)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "Bearer first" || seen[1] != "Bearer second" {
		t.Fatalf("expected a fresh token per request, got %v", seen)
	}
}

func TestRequestsWithoutCredentialFail(t *testing.T) {
	var hits atomic.Int32
	srv := setupServer(t, func(r chi.Router) {
		r.Get("/api/conversations/recent", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			writeJSON(w, http.StatusOK, `[]`)
		})
	})

	client := NewClient(srv.URL, &countingIdentity{})
	_, err := client.Recent(context.Background(), 20)
	if !errors.Is(err, identity.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("anonymous request must not be sent")
	}
}

func TestHistoryFailureStatus(t *testing.T) {
	srv := setupServer(t, func(r chi.Router) {
		r.Get("/api/messages", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
		})
	})

	client := NewClient(srv.URL, &countingIdentity{id: "u-me"})
	_, err := client.History(context.Background(), "u-bob", 10)
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}

func TestRecentDecodesSummaries(t *testing.T) {
	srv := setupServer(t, func(r chi.Router) {
		r.Get("/api/conversations/recent", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `[{"otherUid":"u-bob","otherEmail":"bob@example.com","lastTimestampIso":"2025-01-01T00:00:00Z"},{"otherUid":"u-x"}]`)
		})
	})

	client := NewClient(srv.URL, &countingIdentity{id: "u-me"})
	summaries, err := client.Recent(context.Background(), 20)
	if err != nil {
		t.Fatalf("Recent err: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].LastTimestamp == nil || summaries[1].LastTimestamp != nil {
		t.Fatal("optional timestamp not decoded as expected")
	}
	if summaries[1].DisplayName() != "u-x" {
		t.Fatalf("unexpected display name %q", summaries[1].DisplayName())
	}
}

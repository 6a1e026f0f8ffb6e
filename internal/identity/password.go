package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshSkew = 30 * time.Second

// Session is the result of a successful login.
type Session struct {
	UserID    string    `json:"uid"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Password logs in against the relay with email and password and re-logs in
// transparently when the token is about to expire. Refreshes run outside the
// session lock, so UserID never waits on the network.
type Password struct {
	baseURL  string
	email    string
	password string
	client   *http.Client
	now      func() time.Time
	skew     time.Duration
	refresh  singleflight.Group

	mu      sync.Mutex
	session *Session
	epoch   uint64
}

// PasswordOption customises a Password provider.
type PasswordOption func(*Password)

// WithHTTPClient overrides the HTTP client used for login.
func WithHTTPClient(client *http.Client) PasswordOption {
	return func(p *Password) { p.client = client }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) PasswordOption {
	return func(p *Password) { p.now = now }
}

// NewPassword creates a provider. Nothing happens on the network until Login.
func NewPassword(baseURL, email, password string, opts ...PasswordOption) *Password {
	p := &Password{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    strings.TrimSpace(email),
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
		skew:     defaultRefreshSkew,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Login authenticates and caches the session.
func (p *Password) Login(ctx context.Context) (Session, error) {
	session, err := p.login(ctx)
	if err != nil {
		return Session{}, err
	}

	p.mu.Lock()
	p.session = &session
	p.epoch++
	p.mu.Unlock()
	return session, nil
}

func (p *Password) current() (*Session, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.epoch
}

// UserID returns the logged-in user's id.
func (p *Password) UserID() (string, bool) {
	session, _ := p.current()
	if session == nil {
		return "", false
	}
	return session.UserID, true
}

// Email returns the address of the logged-in user.
func (p *Password) Email() string {
	session, _ := p.current()
	if session == nil {
		return ""
	}
	return session.Email
}

// Token returns a credential valid for at least the refresh skew. Concurrent
// callers share one re-login.
func (p *Password) Token(ctx context.Context) (string, error) {
	session, _ := p.current()
	if session == nil {
		return "", ErrNotLoggedIn
	}
	if p.valid(session) {
		return session.Token, nil
	}

	v, err, _ := p.refresh.Do("refresh", func() (any, error) {
		// An earlier flight may have refreshed the session already.
		latest, epoch := p.current()
		if latest == nil {
			return nil, ErrNotLoggedIn
		}
		if p.valid(latest) {
			return latest.Token, nil
		}

		fresh, err := p.login(ctx)
		if err != nil {
			return nil, fmt.Errorf("refresh token: %w", err)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.session == nil {
			return nil, ErrNotLoggedIn
		}
		if p.epoch != epoch {
			// a newer Login replaced the session while the request was in flight
			return p.session.Token, nil
		}
		p.session = &fresh
		return fresh.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Password) valid(session *Session) bool {
	return p.now().Add(p.skew).Before(session.ExpiresAt)
}

// SignOut drops the session; later Token calls fail with ErrNotLoggedIn.
func (p *Password) SignOut() {
	p.mu.Lock()
	p.session = nil
	p.epoch++
	p.mu.Unlock()
}

func (p *Password) login(ctx context.Context) (Session, error) {
	if p.email == "" || p.password == "" {
		return Session{}, ErrInvalidCredentials
	}

	body, err := json.Marshal(map[string]string{"email": p.email, "password": p.password})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Session{}, ErrInvalidCredentials
	case resp.StatusCode >= 400:
		msg := gjson.GetBytes(respBody, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return Session{}, fmt.Errorf("login failed %d: %s", resp.StatusCode, msg)
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return Session{}, fmt.Errorf("decode login response: %w", err)
	}
	if session.UserID == "" || session.Token == "" {
		return Session{}, fmt.Errorf("login response missing uid or token")
	}
	return session, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/config"
	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/logging"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/conversation"
	"github.com/zhouzirui/dmchat/internal/service/live"
	"github.com/zhouzirui/dmchat/internal/service/remote"
)

var errNoCredentials = errors.New("no credentials configured: set auth.token and auth.user_id, or auth.email and auth.password")

// session is one signed-in client with its engine.
type session struct {
	identity identity.Provider
	me       chat.Peer
	engine   *conversation.Engine
	logger   zerolog.Logger

	mu      sync.Mutex
	changed chan struct{}
}

func buildIdentity(ctx context.Context, cfg config.Client) (identity.Provider, error) {
	auth := cfg.Auth
	switch {
	case strings.TrimSpace(auth.Token) != "":
		if strings.TrimSpace(auth.UserID) == "" {
			return nil, fmt.Errorf("%w: auth.user_id is required with auth.token", config.ErrInvalidConfig)
		}
		return identity.NewStatic(auth.UserID, auth.Token), nil
	case strings.TrimSpace(auth.Email) != "" && auth.Password != "":
		p := identity.NewPassword(cfg.APIBaseURL, auth.Email, auth.Password)
		if _, err := p.Login(ctx); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		return p, nil
	default:
		return nil, errNoCredentials
	}
}

func reconnectPolicy(cfg config.Client) (*live.RetryPolicy, error) {
	if !cfg.Reconnect.Enabled {
		return nil, nil
	}
	base, maxDelay, err := cfg.Reconnect.Delays()
	if err != nil {
		return nil, err
	}
	policy := live.RetryPolicy{
		MaxRetries: cfg.Reconnect.MaxRetries,
		BaseDelay:  base,
		MaxDelay:   maxDelay,
	}.Normalized()
	return &policy, nil
}

// openSession signs in, syncs the directory record and builds the engine.
// listener may be nil; the session always observes views itself.
func openSession(ctx context.Context, cfg config.Client, logOut io.Writer, listener conversation.Listener) (*session, error) {
	logger := logging.New(logOut, cfg.Log)

	id, err := buildIdentity(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy, err := reconnectPolicy(cfg)
	if err != nil {
		return nil, err
	}

	api := remote.NewClient(cfg.APIBaseURL, id, remote.WithLogger(logger))
	me, err := api.SyncMe(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("sync user failed")
	}

	liveOpts := live.DefaultOptions()
	liveOpts.Logger = &logger
	channel := live.NewChannel(cfg.WSURL, id, liveOpts)

	s := &session{
		identity: id,
		me:       me,
		logger:   logger,
		changed:  make(chan struct{}),
	}
	s.engine = conversation.New(conversation.Config{
		Identity:     id,
		Resolver:     api,
		History:      api,
		Recency:      api,
		Transport:    conversation.LiveTransport(channel),
		Listener:     fanout{s, listener},
		Logger:       &logger,
		HistoryLimit: cfg.HistoryLimit,
		RecentLimit:  cfg.RecentLimit,
		Reconnect:    policy,
	})
	return s, nil
}

func (s *session) ViewChanged(conversation.View) {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *session) ScrollToLatest(string) {}

// waitForMessages blocks until the open conversation shows at least n
// messages.
func (s *session) waitForMessages(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()

		if len(s.engine.View().Messages) >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type fanout []conversation.Listener

func (f fanout) ViewChanged(v conversation.View) {
	for _, l := range f {
		if l != nil {
			l.ViewChanged(v)
		}
	}
}

func (f fanout) ScrollToLatest(peerID string) {
	for _, l := range f {
		if l != nil {
			l.ScrollToLatest(peerID)
		}
	}
}

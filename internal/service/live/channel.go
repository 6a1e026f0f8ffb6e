// Package live owns the single persistent websocket to the relay. The
// channel moves CLOSED -> CONNECTING -> OPEN -> CLOSED and never reconnects
// on its own; see ConnectWithRetry for the opt-in policy.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/dmchat/internal/identity"
	"github.com/zhouzirui/dmchat/internal/metrics"
	"github.com/zhouzirui/dmchat/internal/model/chat"
)

var (
	ErrNotOpen      = errors.New("websocket not open")
	ErrNoCredential = errors.New("no credential for live channel")
	ErrClosed       = errors.New("channel closed while connecting")
)

// State is the lifecycle position of the channel.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// Options tunes timeouts of the underlying websocket.
type Options struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Dialer           *websocket.Dialer
	Logger           *zerolog.Logger
}

// DefaultOptions mirrors the relay's keepalive settings.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// CloseFunc observes the end of a connection. err is nil for explicit closes.
type CloseFunc func(conn *Conn, err error)

// Channel manages at most one live connection per session.
type Channel struct {
	baseURL  string
	identity identity.Provider
	opts     Options
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	group    singleflight.Group

	mu      sync.Mutex
	state   State
	conn    *Conn
	epoch   uint64
	nextID  uint64
	onClose CloseFunc
}

// NewChannel creates a closed channel for wsURL (e.g. ws://host:8080).
func NewChannel(wsURL string, id identity.Provider, opts Options) *Channel {
	defaults := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Channel{
		baseURL:  strings.TrimRight(wsURL, "/"),
		identity: id,
		opts:     opts,
		dialer:   dialer,
		logger:   logger.With().Str("component", "live").Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the open connection, or nil.
func (c *Channel) Current() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	return c.conn
}

// OnClose registers the observer called whenever a connection terminates.
func (c *Channel) OnClose(fn CloseFunc) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Connect opens the channel. It returns the existing connection when already
// OPEN, and joins the in-flight attempt when CONNECTING. The shared attempt
// is bounded by the handshake timeout, not by any one caller's ctx; a caller
// whose ctx ends stops waiting without failing the others.
func (c *Channel) Connect(ctx context.Context) (*Conn, error) {
	if conn := c.Current(); conn != nil {
		metrics.ConnectAttempts.WithLabelValues("reused").Inc()
		return conn, nil
	}

	attempt := c.group.DoChan("connect", func() (any, error) {
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.HandshakeTimeout)
		defer cancel()
		return c.dial(dialCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-attempt:
		if res.Err != nil {
			metrics.ConnectAttempts.WithLabelValues("failed").Inc()
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

func (c *Channel) dial(ctx context.Context) (*Conn, error) {
	c.mu.Lock()
	if c.state == StateOpen && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		metrics.ConnectAttempts.WithLabelValues("reused").Inc()
		return conn, nil
	}
	c.state = StateConnecting
	epoch := c.epoch
	c.mu.Unlock()

	token, err := c.identity.Token(ctx)
	if err == nil && token == "" {
		err = identity.ErrNotLoggedIn
	}
	if err != nil {
		c.abort(epoch)
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}

	target := c.baseURL + "/ws/chat?token=" + url.QueryEscape(token)
	ws, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.abort(epoch)
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Close was called while the handshake was in flight.
		c.mu.Unlock()
		ws.Close()
		return nil, ErrClosed
	}
	c.nextID++
	conn := newConn(c, ws, c.nextID)
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	go conn.pingLoop()

	metrics.ConnectAttempts.WithLabelValues("opened").Inc()
	c.logger.Info().Uint64("conn", conn.id).Msg("live channel open")
	return conn, nil
}

func (c *Channel) abort(epoch uint64) {
	c.mu.Lock()
	if c.epoch == epoch && c.state == StateConnecting {
		c.state = StateClosed
	}
	c.mu.Unlock()
}

// Send writes msg on the open connection.
func (c *Channel) Send(msg chat.Message) error {
	conn := c.Current()
	if conn == nil {
		return ErrNotOpen
	}
	return conn.Send(msg)
}

// Close terminates the current connection, or cancels a pending connect.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.epoch++
	conn := c.conn
	c.state = StateClosed
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// release is called exactly once per connection when it terminates.
func (c *Channel) release(conn *Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateClosed
	}
	onClose := c.onClose
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Uint64("conn", conn.id).Msg("live channel closed")
	} else {
		c.logger.Info().Uint64("conn", conn.id).Msg("live channel closed")
	}
	if onClose != nil {
		onClose(conn, err)
	}
}

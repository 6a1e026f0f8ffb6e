package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/metrics"
	"github.com/zhouzirui/dmchat/internal/model/chat"
)

// ErrMalformedFrame marks an inbound frame that is not a valid message.
var ErrMalformedFrame = errors.New("malformed frame")

// ServerError is an {"error": "..."} frame pushed by the relay.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "relay error: " + e.Message
}

// Handler receives decoded inbound messages.
type Handler func(chat.Message)

// Conn is one established websocket. It is never reused after it closes.
type Conn struct {
	id      uint64
	channel *Channel
	ws      *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	handler Handler

	readOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func newConn(ch *Channel, ws *websocket.Conn, id uint64) *Conn {
	c := &Conn{
		id:      id,
		channel: ch,
		ws:      ws,
		done:    make(chan struct{}),
	}

	readTimeout := ch.opts.ReadTimeout
	if readTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}
	return c
}

// ID identifies the connection within its channel.
func (c *Conn) ID() uint64 {
	return c.id
}

// OnMessage installs the inbound handler, replacing any previous one. The
// read pump starts on the first registration.
func (c *Conn) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	c.readOnce.Do(func() {
		go c.readLoop()
	})
}

func (c *Conn) currentHandler() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Send writes msg as a JSON text frame.
func (c *Conn) Send(msg chat.Message) error {
	select {
	case <-c.done:
		return ErrNotOpen
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.channel.opts.WriteTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.terminate(fmt.Errorf("write failed: %w", err))
		return err
	}
	return nil
}

// Close sends a normal closure and tears the connection down.
func (c *Conn) Close() error {
	deadline := time.Now().Add(c.channel.opts.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.terminate(nil)
	return nil
}

// Done is closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while open and after an
// explicit Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) terminate(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		c.ws.Close()
		close(c.done)
		c.channel.release(c, err)
	})
}

func (c *Conn) readLoop() {
	logger := c.channel.logger.With().Uint64("conn", c.id).Logger()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.terminate(nil)
				} else {
					c.terminate(err)
				}
			}
			return
		}

		msg, err := DecodeFrame(data)
		if err != nil {
			var serverErr *ServerError
			if errors.As(err, &serverErr) {
				logger.Warn().Str("error", serverErr.Message).Msg("relay rejected frame")
			} else {
				metrics.InboundMessages.WithLabelValues("malformed").Inc()
				logger.Debug().Err(err).Msg("drop inbound frame")
			}
			continue
		}

		c.dispatch(msg, logger)
	}
}

func (c *Conn) dispatch(msg chat.Message, logger zerolog.Logger) {
	h := c.currentHandler()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("inbound handler panicked")
		}
	}()
	h(msg)
}

func (c *Conn) pingLoop() {
	interval := c.channel.opts.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.channel.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.terminate(fmt.Errorf("ping failed: %w", err))
				return
			}
		}
	}
}

type frame struct {
	chat.Message
	Error string `json:"error,omitempty"`
}

// DecodeFrame parses one inbound text frame.
func DecodeFrame(data []byte) (chat.Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Error != "" {
		return chat.Message{}, &ServerError{Message: f.Error}
	}
	if !f.Message.Valid() {
		return chat.Message{}, fmt.Errorf("%w: missing sender or receiver", ErrMalformedFrame)
	}
	return f.Message, nil
}

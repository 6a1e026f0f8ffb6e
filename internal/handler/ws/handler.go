package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/metrics"
	"github.com/zhouzirui/dmchat/internal/middleware"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/service/relay"
	"github.com/zhouzirui/dmchat/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler WebSocket消息中转处理器
type Handler struct {
	tokens   middleware.TokenLookup
	hub      *relay.Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New 创建WebSocket处理器. checkOrigin may be nil to accept any origin.
func New(tokens middleware.TokenLookup, hub *relay.Hub, checkOrigin func(*http.Request) bool, logger zerolog.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		tokens: tokens,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleWebSocket)
}

// client is the hub's view of one socket. Writes are serialized because
// the recipient path and the reader goroutine both write.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) Deliver(msg chat.Message) error {
	return c.write(msg)
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *client) writeError(message string) error {
	return c.write(map[string]string{"error": message})
}

// handleWebSocket 在握手阶段校验 token，然后循环读取并转发消息
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	uid, ok := h.tokens.Lookup(token)
	if token == "" || !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Unauthenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{conn: conn}
	unregister := h.hub.Register(uid, cl)
	defer unregister()

	logger := h.logger.With().Str("uid", uid).Logger()
	logger.Info().Msg("websocket connected")

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("websocket closed unexpectedly")
			} else {
				logger.Info().Msg("websocket disconnected")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg chat.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.RelayFrames.WithLabelValues("malformed").Inc()
			cl.writeError("invalid message payload")
			continue
		}

		saved, err := h.hub.Submit(ctx, uid, msg)
		if err != nil {
			cl.writeError(err.Error())
			continue
		}
		if err := cl.Deliver(saved); err != nil {
			logger.Warn().Err(err).Msg("echo to sender failed")
			return
		}
	}
}

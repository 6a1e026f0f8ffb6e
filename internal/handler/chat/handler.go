package chat

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/dmchat/internal/middleware"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/model/user"
	"github.com/zhouzirui/dmchat/internal/service/relay"
	"github.com/zhouzirui/dmchat/pkg/utils"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultRecentLimit  = 20
	maxRecentLimit      = 100
)

// Handler 聊天记录与最近会话的HTTP处理器
type Handler struct {
	messages *relay.MessageStore
	users    user.Store
}

// New 创建聊天处理器
func New(messages *relay.MessageStore, users user.Store) *Handler {
	return &Handler{
		messages: messages,
		users:    users,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleHistory)
	r.Get("/conversations/recent", h.handleRecent)
}

// handleHistory 返回与 withUser 的最近消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserIDFromContext(r.Context())
	withUser := strings.TrimSpace(r.URL.Query().Get("withUser"))
	if withUser == "" {
		utils.RespondError(w, http.StatusBadRequest, "withUser is required")
		return
	}

	limit, ok := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.messages.History(r.Context(), me, withUser, limit))
}

// handleRecent 返回按最后消息时间排序的会话列表
func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserIDFromContext(r.Context())
	limit, ok := parseLimit(r, defaultRecentLimit, maxRecentLimit)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "unable to load recent")
		return
	}

	conversations := h.messages.Recent(r.Context(), me, limit)
	out := make([]chat.ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		ts := c.LastTimestamp
		summary := chat.ConversationSummary{OtherID: c.OtherID, LastTimestamp: &ts}
		if account, ok := h.users.FindByID(c.OtherID); ok {
			summary.OtherLabel = account.Email
		}
		out = append(out, summary)
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func parseLimit(r *http.Request, fallback, ceiling int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, false
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit, true
}

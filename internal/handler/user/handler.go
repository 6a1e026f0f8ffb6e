package user

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/dmchat/internal/middleware"
	"github.com/zhouzirui/dmchat/internal/model/chat"
	"github.com/zhouzirui/dmchat/internal/model/user"
	"github.com/zhouzirui/dmchat/pkg/utils"
)

const selfMessage = "Cannot start conversation with yourself"

// Handler 用户目录的HTTP处理器
type Handler struct {
	users user.Store
}

// New 创建用户处理器
func New(users user.Store) *Handler {
	return &Handler{users: users}
}

// RegisterRoutes 注册用户相关的路由，调用方负责挂载认证中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/users/me", h.handleUpsertMe)
	r.Get("/users/resolve", h.handleResolve)
}

// handleUpsertMe 同步当前用户的目录记录
func (h *Handler) handleUpsertMe(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	if _, ok := h.users.FindByID(uid); !ok {
		utils.RespondError(w, http.StatusBadRequest, "Unable to sync user")
		return
	}

	account := h.users.Upsert(user.Account{ID: uid})
	utils.RespondJSON(w, http.StatusOK, chat.Peer{ID: account.ID, Label: account.Email})
}

// handleResolve 按邮箱或 uid 查找用户
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	me, _ := middleware.UserIDFromContext(r.Context())
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))

	var (
		account user.Account
		found   bool
	)
	switch {
	case email != "":
		account, found = h.users.FindByEmail(email)
	case uid != "":
		if uid == me {
			utils.RespondError(w, http.StatusBadRequest, selfMessage)
			return
		}
		account, found = h.users.FindByID(uid)
	default:
		utils.RespondError(w, http.StatusBadRequest, "Provide email or uid")
		return
	}

	if !found {
		utils.RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	if account.ID == me {
		utils.RespondError(w, http.StatusBadRequest, selfMessage)
		return
	}
	utils.RespondJSON(w, http.StatusOK, chat.Peer{ID: account.ID, Label: account.Email})
}

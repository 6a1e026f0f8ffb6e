package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/dmchat/internal/middleware"
	"github.com/zhouzirui/dmchat/internal/model/user"
	"github.com/zhouzirui/dmchat/internal/service/relay"
	"github.com/zhouzirui/dmchat/pkg/utils"
)

// Handler 登录与登出
type Handler struct {
	users  user.Store
	tokens *relay.TokenStore
}

// New 创建认证处理器
func New(users user.Store, tokens *relay.TokenStore) *Handler {
	return &Handler{
		users:  users,
		tokens: tokens,
	}
}

// RegisterRoutes 注册公开路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

// RegisterProtectedRoutes 注册需要登录的路由
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
}

type loginResponse struct {
	UserID    string    `json:"uid"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleLogin 校验邮箱密码并签发 token
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	email := strings.TrimSpace(payload.Email)
	if email == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	account, ok := h.users.FindByEmail(email)
	if !ok || !account.CheckPassword(payload.Password) {
		utils.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt := h.tokens.Issue(account.ID)
	utils.RespondJSON(w, http.StatusOK, loginResponse{
		UserID:    account.ID,
		Email:     account.Email,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// handleLogout 吊销当前 token
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.tokens.Revoke(middleware.BearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

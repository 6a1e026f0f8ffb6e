package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/dmchat/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "uid"

// TokenLookup resolves a bearer token to its user.
type TokenLookup interface {
	Lookup(token string) (string, bool)
}

// RequireAuth 校验 Authorization: Bearer <token>，websocket 握手时也接受 ?token=
func RequireAuth(tokens TokenLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing token")
				return
			}
			uid, ok := tokens.Lookup(token)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}

// BearerToken extracts the credential from the header or the token query
// parameter.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// WithUserID stores the authenticated user on ctx.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// UserIDFromContext returns the authenticated user, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}

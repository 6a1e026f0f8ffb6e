package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/handler/auth"
	"github.com/zhouzirui/dmchat/internal/handler/chat"
	userHandler "github.com/zhouzirui/dmchat/internal/handler/user"
	"github.com/zhouzirui/dmchat/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/dmchat/internal/middleware"
	"github.com/zhouzirui/dmchat/internal/model/user"
	"github.com/zhouzirui/dmchat/internal/service/relay"
	"github.com/zhouzirui/dmchat/pkg/utils"
)

// Deps bundles the relay state the routes operate on.
type Deps struct {
	Users          user.Store
	Tokens         *relay.TokenStore
	Messages       *relay.MessageStore
	Hub            *relay.Hub
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter wires HTTP routes to relay services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	authH := auth.New(deps.Users, deps.Tokens)
	usersH := userHandler.New(deps.Users)
	chatH := chat.New(deps.Messages, deps.Users)
	wsH := ws.New(deps.Tokens, deps.Hub, nil, deps.Logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	wsH.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		authH.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireAuth(deps.Tokens))

			authH.RegisterProtectedRoutes(protected)
			usersH.RegisterRoutes(protected)
			chatH.RegisterRoutes(protected)
		})
	})

	return r
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/dmchat/internal/config"
	"github.com/zhouzirui/dmchat/internal/handler"
	"github.com/zhouzirui/dmchat/internal/logging"
	"github.com/zhouzirui/dmchat/internal/model/user"
	"github.com/zhouzirui/dmchat/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.LoadRelay()
	if err != nil {
		bootstrap := logging.New(os.Stderr, config.LogConfig{Pretty: true})
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.IsDevelopment() {
		cfg.Log.Pretty = true
	}

	logger := logging.New(os.Stdout, cfg.Log)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	users := user.NewMemoryStore(cfg.Auth.Accounts)
	messages := relay.NewMessageStore()
	hub := relay.NewHub(messages, logger)

	router := handler.NewRouter(handler.Deps{
		Users:          users,
		Tokens:         relay.NewTokenStore(cfg.Auth.TokenTTL),
		Messages:       messages,
		Hub:            hub,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	logger.Info().Int("accounts", len(cfg.Auth.Accounts)).Str("env", cfg.Env).Msg("relay initialized")
	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("dmchat relay listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

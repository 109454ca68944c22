// Package main provides the chat gateway binary: a websocket session
// gateway with a REST surface, backed by a shared Redis store.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/auth"
	"github.com/fnfo/chat/internal/chat/bus"
	"github.com/fnfo/chat/internal/chat/history"
	"github.com/fnfo/chat/internal/chat/ratelimit"
	"github.com/fnfo/chat/internal/chat/room"
	"github.com/fnfo/chat/internal/config"
	"github.com/fnfo/chat/internal/gateway"
	"github.com/fnfo/chat/internal/httpapi"
	"github.com/fnfo/chat/internal/observability"
	"github.com/fnfo/chat/internal/server"
	"github.com/fnfo/chat/internal/storage/redisstore"
	"github.com/fnfo/chat/internal/upstream"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chat gateway",
		zap.String("mode", cfg.Server.Mode),
		zap.String("http_addr", cfg.HTTP.Addr()),
	)

	// Connect to the shared store.
	storeStart := time.Now()
	store, err := redisstore.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("connecting to redis", zap.Error(err))
	}
	logger.Info("redis connected",
		zap.String("addr", cfg.Redis.Addr),
		zap.Duration("elapsed", time.Since(storeStart)),
	)

	matchmaking := upstream.NewMatchmakingClient(cfg.Upstream, logger)
	profiles := upstream.NewProfileResolver(cfg.Upstream, logger)

	directory := room.NewDirectory(
		store.Redis(),
		matchmaking,
		cfg.Chat.RoomTTL,
		!cfg.Server.Production(),
		logger,
	)
	messages := history.NewLog(store.Redis(), cfg.Chat.RoomTTL, logger)
	limiter := ratelimit.NewLimiter(store.Redis(), cfg.Chat.RateLimitPerSecond, cfg.Chat.RateWindow)

	verifier := auth.NewJWTVerifier(cfg.Auth, logger)
	authn := auth.NewAuthenticator(verifier, cfg.Auth.AllowSelfDeclared, logger)

	eventBus := bus.New(store.Redis(), logger)
	hub := gateway.NewHub(logger)
	gw := gateway.New(hub, directory, messages, limiter, eventBus, profiles, authn, cfg.Chat, logger)

	// Fan-out subscriptions. The gateway receives its own publishes on
	// the chat events channel, which is the only local delivery path.
	busCtx, busCancel := context.WithCancel(ctx)
	defer busCancel()
	if err := eventBus.Subscribe(busCtx, bus.ChannelChatEvents, gw.HandleChatEvent); err != nil {
		logger.Fatal("subscribing to chat events", zap.Error(err))
	}
	if err := eventBus.Subscribe(busCtx, bus.ChannelRoomNotifications, gw.HandleRoomNotification); err != nil {
		logger.Fatal("subscribing to room notifications", zap.Error(err))
	}

	wsHandler := gateway.NewHandler(gw, cfg.HTTP, logger)
	api := httpapi.New(directory, messages, profiles, store, hub, wsHandler, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			return api.Listen(cfg.HTTP.Addr())
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		},
	})
	lifecycle.Add("fanout-bus", &server.FuncService{
		StartFn: func() error {
			<-busCtx.Done()
			return nil
		},
		StopFn: func() {
			busCancel()
			eventBus.Close()
		},
	})

	logger.Info("chat gateway ready", zap.Duration("elapsed", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("lifecycle terminated with error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Warn("closing redis", zap.Error(err))
	}
	logger.Info("chat gateway stopped")
}

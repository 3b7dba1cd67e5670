// Command gateway serves random chat over WebSocket: it holds the connection
// registry, the match queue, the session controller and the friend request
// protocol, plus the REST side API, /health and /metrics on one listener.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/api"
	"github.com/whisper/randomchat/internal/auth"
	"github.com/whisper/randomchat/internal/ban"
	"github.com/whisper/randomchat/internal/chat"
	"github.com/whisper/randomchat/internal/config"
	"github.com/whisper/randomchat/internal/friend"
	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/matching"
	"github.com/whisper/randomchat/internal/media"
	"github.com/whisper/randomchat/internal/messaging"
	"github.com/whisper/randomchat/internal/metrics"
	"github.com/whisper/randomchat/internal/ratelimit"
	"github.com/whisper/randomchat/internal/registry"
	"github.com/whisper/randomchat/internal/report"
	"github.com/whisper/randomchat/internal/session"
	"github.com/whisper/randomchat/internal/store"
	"github.com/whisper/randomchat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger config is part of cfg, so fall back to a default one.
		logger.Build(logger.DefaultConfig()).Fatal("load config", zap.Error(err))
	}

	log := logger.Build(cfg.Log).With(zap.String("server", cfg.ServerName))
	defer func() { _ = log.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- PostgreSQL ---
	db, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpen, cfg.Database.MaxIdle)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(db); err != nil {
			log.Fatal("migrate database", zap.Error(err))
		}
	}

	conversations := store.NewConversations(db)
	messages := store.NewMessages(db)
	friendRequests := store.NewFriendRequests(db)
	profiles := store.NewCachedProfiles(store.NewProfiles(db), cfg.Matching.ProfileCacheSize, cfg.Matching.ProfileCacheTTL)
	reports := report.NewStore(db)

	// --- Media ---
	var remover media.Remover
	if r, err := media.NewMinIORemover(cfg.Media, log); err != nil {
		log.Warn("media deletion disabled", zap.Error(err))
	} else {
		remover = r
	}
	pool, err := media.NewPool(cfg.Media.Workers, log)
	if err != nil {
		log.Fatal("create media pool", zap.Error(err))
	}
	defer pool.Release()
	purger := media.NewPurger(remover, pool, log)

	// --- Redis ---
	sessions, err := session.NewStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.ServerName)
	if err != nil {
		log.Fatal("connect to redis", zap.Error(err))
	}
	defer sessions.Close()
	bans := ban.NewStore(sessions.Client())
	limiter := ratelimit.NewLimiter(sessions.Client(), log)

	// --- NATS ---
	natsCfg := cfg.NATS
	natsCfg.Name = "randomchat-gateway-" + cfg.ServerName
	natsClient, err := messaging.NewNATSClient(natsCfg, log)
	if err != nil {
		log.Warn("moderation disabled, nats unavailable", zap.Error(err))
		natsClient = nil
	}

	// --- Engine ---
	reg := registry.New()
	queueOpts := []matching.Option{matching.WithLogger(log)}
	if cfg.Matching.ApplyPreferences {
		queueOpts = append(queueOpts, matching.WithFilter(matching.PreferenceFilter))
	}
	queue := matching.NewQueue(queueOpts...)
	history := chat.NewHistory(chat.DefaultHistorySize)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !verifier.Enabled() {
		log.Warn("JWT_SECRET is not set, every connection stays anonymous")
	}

	dispatcher := ws.NewMessageDispatcher(log)
	server := ws.NewServer(cfg.Server, reg, verifier, dispatcher.Dispatch, log)
	server.SetSessionMirror(sessions)

	ctl := session.NewController(session.Deps{
		Queue:         queue,
		Registry:      reg,
		Conversations: conversations,
		Messages:      messages,
		Profiles:      profiles,
		Purger:        purger,
		Notifier:      server,
		Bans:          bans,
		Mirror:        sessions,
		History:       history,
	}, log)
	friends := friend.NewProtocol(friendRequests, ctl, conversations, reg, server, cfg.Friend.RequestTTL, log)

	gw := &gateway{
		ctl:     ctl,
		friends: friends,
		history: history,
		limiter: limiter,
		reports: reports,
		bans:    bans,
		isLocal: func(connID string) bool { return server.Connections().Get(connID) != nil },
		log:     log.Named("gateway"),
	}
	if natsClient != nil {
		gw.moderation = natsClient
		if err := natsClient.SubscribeModerationResults(gw.onModerationResult); err != nil {
			log.Error("subscribe moderation results", zap.Error(err))
		}
	}
	gw.register(dispatcher)

	server.SetOnDisconnect(func(connID string) {
		ctl.Disconnect(connID)
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := limiter.Reset(rctx, connID, ratelimit.RuleMessage, ratelimit.RuleMatch, ratelimit.RuleFriend); err != nil {
			log.Debug("reset rate limits failed", zap.String("conn_id", connID), zap.Error(err))
		}
	})

	server.Handle("/metrics", metrics.Handler())
	server.Handle("/api/", api.NewRouter(verifier, friendRequests, log))

	go friend.RunJanitor(ctx, friendRequests, cfg.Friend.JanitorEvery, log)

	log.Info("gateway starting",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.Int("worker_pool", cfg.Server.WorkerPoolSize),
		zap.Int("max_connections", cfg.Server.MaxConnections),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Bool("apply_preferences", cfg.Matching.ApplyPreferences),
		zap.Bool("auth_enabled", verifier.Enabled()))

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server stopped", zap.Error(err))
	}

	stop()
	if natsClient != nil {
		natsClient.Close()
	}
	// Shutdown removes every connection, which runs disconnect cleanup for
	// each live pairing before the stores close.
	if err := server.Shutdown(); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}

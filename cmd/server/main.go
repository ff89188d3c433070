package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/chaperone/internal/app"
	"github.com/oggyb/chaperone/internal/auth"
	"github.com/oggyb/chaperone/internal/cache"
	"github.com/oggyb/chaperone/internal/config"
	"github.com/oggyb/chaperone/internal/db"
	"github.com/oggyb/chaperone/internal/logger"
	"github.com/oggyb/chaperone/internal/realtime"
	"github.com/oggyb/chaperone/internal/server"
	"github.com/oggyb/chaperone/internal/service/admin"
	"github.com/oggyb/chaperone/internal/service/conversation"
	"github.com/oggyb/chaperone/internal/service/discovery"
	"github.com/oggyb/chaperone/internal/service/guardian"
	"github.com/oggyb/chaperone/internal/service/matching"
	"github.com/oggyb/chaperone/internal/storage"
	"github.com/oggyb/chaperone/internal/transport/rest"
)

func main() {
	cfg := config.MustNew()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		os.Exit(1)
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(ctx); err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	appCtx := app.New(cfg, database, redisCache, log)

	// attachments are optional
	if presigner, err := storage.New(ctx, cfg); err != nil {
		log.Warn("object storage disabled", "err", err)
	} else {
		appCtx.Storage = presigner
	}

	if cfg.IsDevelopment() {
		if err := db.SeedDemoData(database, log); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	conversations := conversation.NewConversationService(appCtx)
	matchingSvc := matching.NewMatchingService(appCtx, conversations)

	router := rest.NewRouter(appCtx, rest.Services{
		Tokens:        tokens,
		Auth:          auth.NewAuthService(appCtx, tokens),
		Discovery:     discovery.NewDiscoveryService(appCtx),
		Matching:      matchingSvc,
		Conversations: conversations,
		Guardians:     guardian.NewGuardianService(appCtx),
		Realtime:      realtime.NewGateway(appCtx, matchingSvc, conversations),
	})

	registrars := []server.Registrar{
		admin.NewRegistrar(appCtx, matchingSvc, tokens),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartHTTPServer(gctx, cfg, log, router)
	})
	g.Go(func() error {
		return server.StartGRPCServer(gctx, cfg, log, registrars...)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

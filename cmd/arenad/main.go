// Package main provides the arena session server: it accepts websocket
// clients, authenticates them against the identity store and runs matchmaking.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/master"
	"github.com/cory-johannsen/arena/internal/identity"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("listen_addr", cfg.Listen.Addr()),
		zap.String("listen_path", cfg.Listen.Path),
	)

	// Connect to the identity store
	ctx := context.Background()
	storeStart := time.Now()
	store, err := identity.NewRedisStore(cfg.Identity, logger)
	if err != nil {
		logger.Fatal("connecting to identity store", zap.Error(err))
	}
	logger.Info("identity store connected",
		zap.String("url", cfg.Identity.URL),
		zap.Duration("elapsed", time.Since(storeStart)),
	)

	// Build services
	orchestrator := master.New(cfg.Session, cfg.Lobby, store, logger)
	acceptor := ws.NewAcceptor(cfg.Listen, orchestrator, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("identity-store", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := store.Ping(pingCtx); err != nil {
					logger.Warn("identity store health check failed", zap.Error(err))
				}
				cancel()
			}
		},
		StopFn: func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing identity store", zap.Error(err))
			}
		},
	})

	lifecycle.Add("session-janitor", orchestrator)

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("arena initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

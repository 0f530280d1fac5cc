package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/wordbattle/wordbattle/internal/api/http"
	appBattle "github.com/wordbattle/wordbattle/internal/application/battle"
	appSession "github.com/wordbattle/wordbattle/internal/application/session"
	"github.com/wordbattle/wordbattle/internal/config"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
	"github.com/wordbattle/wordbattle/internal/infrastructure/ws"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer func() { _ = st.Close() }()

	// infrastructure
	hub := ws.NewHub(logger)

	// services
	sessionSvc := appSession.NewService(st, hub, logger)
	battleSvc := appBattle.NewService(st, sessionSvc, sessionSvc, logger)

	wsHandler := ws.NewHandler(sessionSvc, battleSvc, st, hub, logger)

	// one spawner goroutine per created battle, all stopped on shutdown
	spawnCtx, stopSpawners := context.WithCancel(context.Background())
	var spawners sync.WaitGroup
	onBattleCreated := func(bid string) {
		spawners.Add(1)
		go func() {
			defer spawners.Done()
			battleSvc.RunSpawner(spawnCtx, bid, cfg.SpawnInterval)
		}()
	}

	// API server
	apiServer := httpapi.NewServer(sessionSvc, battleSvc, wsHandler, onBattleCreated)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stopSpawners()
	spawners.Wait()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ultrahub-team/ultrahub/internal/accounts"
	"github.com/ultrahub-team/ultrahub/internal/catalog"
	"github.com/ultrahub-team/ultrahub/internal/config"
	"github.com/ultrahub-team/ultrahub/internal/httpapi"
	"github.com/ultrahub-team/ultrahub/internal/inventory"
	"github.com/ultrahub-team/ultrahub/internal/observability"
	"github.com/ultrahub-team/ultrahub/internal/presentation"
	"github.com/ultrahub-team/ultrahub/internal/raid"
	"github.com/ultrahub-team/ultrahub/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	cat, err := catalog.Load(cfg.BossFile, cfg.CompsDir)
	if err != nil {
		log.Fatalf("catalog load failed: %v", err)
	}
	log.Printf("catalog loaded: %d visible boss(es)", len(cat.VisibleBosses()))

	ctx := context.Background()
	raidStore, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer raidStore.Close()

	var linker raid.AccountLinker
	if cfg.DatabaseURL != "" {
		pgLinker, err := accounts.NewPostgresLinker(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("account linker init failed: %v", err)
		}
		defer pgLinker.Close()
		linker = pgLinker
	} else {
		linker = accounts.NewFileLinker(cfg.UsersFile)
	}
	caps := inventory.NewClient(cfg.InventoryBaseURL, cfg.InventoryTimeout)

	var presenter raid.Presenter
	if cfg.GatewayURL != "" {
		presenter = presentation.NewGateway(cfg.GatewayURL)
		log.Printf("presenter: gateway at %s", cfg.GatewayURL)
	} else {
		presenter = presentation.NewInMemory()
		log.Printf("presenter: in-memory (no gateway configured)")
	}

	registry := raid.NewRegistry()
	manager := raid.NewManager(registry, cat, raidStore, linker, caps, presenter, metrics, cfg.ConfirmWindow)

	if err := manager.Load(ctx); err != nil {
		log.Fatalf("restore sessions failed: %v", err)
	}
	manager.Reconcile(ctx)

	api := httpapi.New(cfg, manager, cat, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	manager.StartSweeper(runCtx, cfg.SweepInterval, cfg.InactivityTimeout)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	manager.StopTimers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/agents"
	internalhttp "github.com/guardianware/guardian-hub/internal/api/http"
	"github.com/guardianware/guardian-hub/internal/auth"
	"github.com/guardianware/guardian-hub/internal/db"
	"github.com/guardianware/guardian-hub/internal/handshake"
	"github.com/guardianware/guardian-hub/internal/keypair"
	"github.com/guardianware/guardian-hub/internal/plugins"
	"github.com/guardianware/guardian-hub/internal/store"
)

var AppVersion string

const defaultSweepInterval = 5 * time.Minute

func main() {
	InitConfig()

	slog.Info("Guardian Hub Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if config.Db.Url != "" {
		if err := db.RunMigrations(config.Db.Url); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		pool, err := db.InitDB(ctx, config.Db.Url)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool)
	} else {
		slog.Warn("No database configured, using in-memory store")
		st = store.NewMemoryStore()
	}

	keyPath := config.Keys.Path
	if keyPath == "" {
		keyPath = "guardian-hub.key"
	}
	keys, err := keypair.Load(keyPath)
	if err != nil {
		slog.Error("Failed to load server keypair", "error", err, "path", keyPath)
		os.Exit(1)
	}
	if fingerprint, err := keys.Fingerprint(); err == nil {
		slog.Info("Server identity loaded", "fingerprint", fingerprint)
	}

	agentService := agents.NewService(st, config.Jwt, config.Agents)
	coordinator := plugins.NewCoordinator(st, config.Plugins)
	gateway := auth.NewGateway(config.Jwt, st)
	handshakeService := handshake.NewService(keys, AppVersion)

	sweepInterval := config.Plugins.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	go coordinator.StartSweep(ctx, sweepInterval)

	services := &internalhttp.Services{
		AgentService: agentService,
		Coordinator:  coordinator,
		Gateway:      gateway,
		Handshake:    handshakeService,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length", "X-Agent-Token", "X-Agent-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services, config.Http)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}

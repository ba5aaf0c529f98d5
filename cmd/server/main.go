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

	"github.com/gorilla/mux"

	"github.com/boxmark/boxmark/internal/asset"
	"github.com/boxmark/boxmark/internal/auth"
	"github.com/boxmark/boxmark/internal/config"
	"github.com/boxmark/boxmark/internal/db"
	"github.com/boxmark/boxmark/internal/export"
	mw "github.com/boxmark/boxmark/internal/middleware"
	"github.com/boxmark/boxmark/internal/session"
	"github.com/boxmark/boxmark/internal/snapshot"
)

func main() {
	// boxmark hash-key <key> prints the value for HOST_API_KEY_HASH
	if len(os.Args) == 3 && os.Args[1] == "hash-key" {
		hash, err := auth.HashAPIKey(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store db.CommitStore
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pgStore := db.NewPGCommitStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			slog.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		store = pgStore
	} else {
		slog.Warn("DATABASE_URL not set, commits are kept in memory")
		store = db.NewMemoryCommitStore()
	}

	authService := auth.NewService(cfg.JWTSecret, cfg.HostAPIKeyHash)
	if authService.HostAPIOpen() {
		slog.Warn("HOST_API_KEY_HASH not set, host API is open")
	}

	renderer, err := snapshot.NewRenderer()
	if err != nil {
		slog.Error("create renderer", "error", err)
		os.Exit(1)
	}

	assetHandler := asset.NewHandler(cfg.AssetDir, cfg.FetchTimeout)

	hub := session.NewHub(session.Options{
		Store:              store,
		Images:             assetHandler,
		Renderer:           renderer,
		Logger:             logger.With("component", "hub"),
		SnapshotTimeout:    cfg.SnapshotTimeout,
		DefaultDeleteLabel: cfg.DefaultDeleteLabel,
	})
	go hub.Run()

	sessionHandler := session.NewHandler(hub, authService, cfg.OriginHosts())
	exportHandler := export.NewHandler(hub, renderer)

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.Origins()))

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Background images
	r.HandleFunc("/assets/upload", assetHandler.Upload).Methods("POST", "OPTIONS")
	r.PathPrefix("/assets/").Handler(assetHandler.Serve()).Methods("GET")

	// Host API
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authService.HostMiddleware)

	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}", sessionHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}", sessionHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{sessionId}/commit", sessionHandler.Commit).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/commits/latest", sessionHandler.GetLatestCommit).Methods("GET", "OPTIONS")
	api.HandleFunc("/sessions/{sessionId}/snapshot.png", exportHandler.ExportPNG).Methods("GET", "OPTIONS")

	// Editor event stream, authorized by the per-session token
	r.HandleFunc("/ws/session/{sessionId}", sessionHandler.ServeWS)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")

		// Drop editors first so their handlers return
		hub.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

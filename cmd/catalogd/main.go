package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/api"
	"github.com/openshelf/catalogd/internal/auth"
	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/config"
	"github.com/openshelf/catalogd/internal/db"
	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/export"
	"github.com/openshelf/catalogd/internal/ingestion"
	"github.com/openshelf/catalogd/internal/library"
	"github.com/openshelf/catalogd/internal/middleware"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		sugar.Fatalw("Failed to load configuration", "error", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalw("Failed to connect to database", "error", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		sugar.Fatalw("Failed to run migrations", "error", err)
	}

	store := docstore.NewPostgresStore(conn.Pool)
	history := catalog.NewHistoryLog(store)
	repo := catalog.NewRepository(store, history, catalog.WithLogger(sugar))
	service := library.NewService(repo)

	reconciler := catalog.NewReconciler(store, history)
	go reconciler.RunEvery(ctx, cfg.Reconcile.Interval)

	exportOpts := []export.Option{}
	if cfg.Export.Directory != "" {
		exportOpts = append(exportOpts, export.WithExportDirectory(cfg.Export.Directory))
	}
	exportService := export.NewService(history, exportOpts...)
	importService := ingestion.NewService(service)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(auth.Middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("/api/catalog/", wrap(http.StripPrefix("/api/catalog", api.NewHTTPHandler(service))))
	mux.Handle("/api/exports", wrap(export.NewHTTPHandler(exportService)))
	mux.Handle("/api/exports/", wrap(export.NewHTTPHandler(exportService)))
	mux.Handle("/api/imports", wrap(ingestion.NewHTTPHandler(importService)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("Starting catalogd server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Fatalw("Server forced to shutdown", "error", err)
	}

	sugar.Infow("Server exited")
}

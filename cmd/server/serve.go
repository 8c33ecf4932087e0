package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/timo-math/adaptive-backend/internal/adaptive"
	"github.com/timo-math/adaptive-backend/internal/auth"
	"github.com/timo-math/adaptive-backend/internal/cache"
	"github.com/timo-math/adaptive-backend/internal/config"
	"github.com/timo-math/adaptive-backend/internal/database"
	"github.com/timo-math/adaptive-backend/internal/learning"
	"github.com/timo-math/adaptive-backend/internal/logger"
	"github.com/timo-math/adaptive-backend/internal/middleware"
	"github.com/timo-math/adaptive-backend/internal/predictor"
	"github.com/timo-math/adaptive-backend/internal/scheduler"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return err
		}
		defer log.Sync()

		return serve(cmd.Context(), cfg, log)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if !skipMigrations {
		if err := database.Migrate(cfg.DB, database.Up, log); err != nil {
			return err
		}
	}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	poolCache, err := cache.NewPoolCache(cfg.RedisAddr, cfg.PoolCacheTTL, log)
	if err != nil {
		log.Warn("question pool cache disabled", "error", err)
	}
	defer poolCache.Close()

	var engineOpts []adaptive.Option
	pred, err := predictor.New(cfg.Predictor, log)
	if err != nil {
		return err
	}
	if pred != nil {
		engineOpts = append(engineOpts, adaptive.WithPredictor(pred))
	}
	engine := adaptive.New(cfg.Engine, engineOpts...)

	// Initialize handlers
	tokens := auth.NewTokens(cfg.JWTSecret)
	authHandler := auth.NewHandler(auth.NewStore(db), tokens, log)
	store := learning.NewStore(db, cfg.Engine.Thresholds.HistoryLimit)
	service := learning.NewService(engine, store, poolCache, log, learning.WithShuffle(rand.Shuffle))
	learningHandler := learning.NewHandler(service, log)

	if poolCache != nil && cfg.PoolCacheTTL > 0 {
		jobs := scheduler.New(service, cfg.PoolCacheTTL/2, log)
		if err := jobs.Start(); err != nil {
			return err
		}
		defer jobs.Stop()
	}

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.Auth(tokens))
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")
	learningHandler.RegisterRoutes(protected)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "predictor", cfg.Predictor.Mode, "pool_cache", poolCache != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KyleGowen/excelsior-sub010/internal/authz"
	"github.com/KyleGowen/excelsior-sub010/internal/catalog"
	"github.com/KyleGowen/excelsior-sub010/internal/config"
	"github.com/KyleGowen/excelsior-sub010/internal/database"
	"github.com/KyleGowen/excelsior-sub010/internal/decks"
	"github.com/KyleGowen/excelsior-sub010/internal/handlers"
	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/ratelimit"
	"github.com/KyleGowen/excelsior-sub010/internal/store"
	"github.com/KyleGowen/excelsior-sub010/internal/validation"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	logger.Initialize(logger.ParseLevel(cfg.LogLevel), cfg.IsDevelopment())

	db, err := database.Initialize(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to initialize database", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	cards, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("Failed to load card catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	logger.Info("Card catalog loaded", "cards", cards.Len())

	rules := validation.DefaultRules()
	rules.RosterSize = cfg.RosterSize
	validator := validation.New(cards, rules)

	deckStore := store.New(database.NewDeckRepository(db), decks.StoreOptions(validator)...)
	if err := deckStore.Load(context.Background()); err != nil {
		logger.Error("Failed to load decks", "error", err)
		os.Exit(1)
	}

	var limiter *ratelimit.Limiter
	if !cfg.DisableRateLimit {
		limiter = newLimiter(cfg)
	}
	deckService := decks.NewService(deckStore, authz.New(limiter), validator)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r, err := handlers.NewEngine(cfg)
	if err != nil {
		logger.Error("Invalid trusted proxy list", "proxies", cfg.TrustedProxies, "error", err)
		os.Exit(1)
	}

	handlers.SetupRoutes(r, db, cfg, deckService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runCleanup(ctx, db, limiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown did not complete cleanly", "error", err)
	}
	if err := deckStore.Flush(shutdownCtx); err != nil {
		logger.Error("Failed to flush pending deck writes", "pending", deckStore.Pending(), "error", err)
	}
}

func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	create := ratelimit.Policy{Limit: cfg.RateLimitCreate, Window: cfg.RateLimitWindow}
	mutate := ratelimit.Policy{Limit: cfg.RateLimitMutate, Window: cfg.RateLimitWindow}
	read := ratelimit.Policy{Limit: cfg.RateLimitRead, Window: cfg.RateLimitWindow}

	return ratelimit.New(map[string]ratelimit.Policy{
		string(authz.OpCreate):   create,
		string(authz.OpDelete):   create,
		string(authz.OpList):     read,
		string(authz.OpRead):     read,
		string(authz.OpStats):    read,
		string(authz.OpValidate): read,

		string(authz.OpReadUIPreferences): read,
	}, mutate)
}

// runCleanup drops expired sessions and idle limiter entries until ctx ends.
func runCleanup(ctx context.Context, db *database.DB, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := database.CleanupExpiredSessions(db)
			if err != nil {
				logger.Warn("Failed to clean up expired sessions", "error", err)
			} else if removed > 0 {
				logger.Debug("Expired sessions removed", "count", removed)
			}
			if limiter != nil {
				limiter.Cleanup()
			}
		}
	}
}

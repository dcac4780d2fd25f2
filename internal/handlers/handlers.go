package handlers

import (
	"errors"
	"net/http"

	"github.com/KyleGowen/excelsior-sub010/internal/config"
	"github.com/KyleGowen/excelsior-sub010/internal/database"
	"github.com/KyleGowen/excelsior-sub010/internal/decks"
	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/middleware"

	"github.com/gin-gonic/gin"
)

// NewEngine builds the gin engine with recovery, CORS and the proxy trust
// list. With no trusted proxies ClientIP is always the socket peer, so
// X-Forwarded-For cannot be used to dodge rate limits.
func NewEngine(cfg *config.Config) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	return r, nil
}

func SetupRoutes(r *gin.Engine, db *database.DB, cfg *config.Config, deckService *decks.Service) {
	r.Use(middleware.LogRequests())
	r.Use(middleware.SecurityHeaders(cfg))
	r.Use(middleware.AddDBContext(db))
	r.Use(addServiceContext(cfg, deckService))

	r.GET("/health", handleHealth)

	api := r.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", middleware.AuthRateLimit(cfg), handleRegister)
		auth.POST("/login", middleware.AuthRateLimit(cfg), handleLogin)
		auth.POST("/guest", handleGuestLogin)
		auth.POST("/logout", middleware.AuthRequired(db, cfg), handleLogout)
		auth.GET("/me", middleware.AuthRequired(db, cfg), handleMe)
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthRequired(db, cfg))
	protected.Use(middleware.ReadOnly())
	{
		protected.GET("/decks", handleListDecks)
		protected.POST("/decks", handleCreateDeck)
		protected.POST("/decks/validate", handleValidateDeck)
		protected.GET("/decks/:id", handleGetDeck)
		protected.GET("/decks/:id/readonly", handleGetDeck)
		protected.PUT("/decks/:id", handleUpdateDeck)
		protected.PUT("/decks/:id/readonly", handleUpdateDeck)
		protected.DELETE("/decks/:id", handleDeleteDeck)
		protected.DELETE("/decks/:id/readonly", handleDeleteDeck)
		protected.POST("/decks/:id/cards", handleAddCard)
		protected.DELETE("/decks/:id/cards", handleRemoveCard)
		protected.PUT("/decks/:id/cards", handleReplaceCards)
		protected.PUT("/decks/:id/reserve", handleSetReserve)
		protected.GET("/decks/:id/ui-preferences", handleGetUIPreferences)
		protected.PUT("/decks/:id/ui-preferences", handleUpdateUIPreferences)

		protected.GET("/deck-stats", handleDeckStats)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(db, cfg))
	admin.Use(middleware.AdminRequired())
	{
		admin.GET("/users", handleListUsers)
		admin.PUT("/users/:id/role", handleUpdateUserRole)
		admin.POST("/decks/recalculate", handleRecalculateCardCounts)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "not found")
	})
}

func addServiceContext(cfg *config.Config, deckService *decks.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("config", cfg)
		c.Set("deck_service", deckService)
		c.Next()
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondOK(c *gin.Context, status int, data interface{}, warnings []string) {
	body := gin.H{"success": true, "data": data}
	if len(warnings) > 0 {
		body["warnings"] = warnings
	}
	c.JSON(status, body)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// respondServiceError maps a deck service failure onto the wire. Anything
// that is not a *decks.Error is reported generically.
func respondServiceError(c *gin.Context, err error) {
	var deckErr *decks.Error
	if errors.As(err, &deckErr) {
		respondError(c, deckErr.Status, deckErr.Message)
		return
	}

	logger.Error("Unhandled deck service error", "path", c.FullPath(), "error", err)
	respondError(c, http.StatusInternalServerError, "internal server error")
}

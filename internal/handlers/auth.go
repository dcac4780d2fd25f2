package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/KyleGowen/excelsior-sub010/internal/config"
	"github.com/KyleGowen/excelsior-sub010/internal/database"
	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/middleware"
	"github.com/KyleGowen/excelsior-sub010/internal/models"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func handleRegister(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req) {
		return
	}

	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 30 {
		respondError(c, http.StatusBadRequest, "username must be between 3 and 30 characters")
		return
	}
	if strings.EqualFold(username, database.GuestUsername) {
		respondError(c, http.StatusBadRequest, "that username is reserved")
		return
	}
	if len(req.Password) < 8 {
		respondError(c, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	db := c.MustGet("db").(*database.DB)

	user, err := database.CreateUser(db, username, req.Password)
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			respondError(c, http.StatusConflict, "an account with that username already exists")
			return
		}
		logger.Error("Failed to create user", "username", username, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to create account")
		return
	}

	logger.Info("User registered", "user_id", user.ID, "role", user.Role.String())
	startSession(c, db, user, http.StatusCreated)
}

func handleLogin(c *gin.Context) {
	var req credentialsRequest
	if !bindJSON(c, &req) {
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "username and password are required")
		return
	}

	db := c.MustGet("db").(*database.DB)

	user, err := database.AuthenticateUser(db, username, req.Password)
	if err != nil {
		if !errors.Is(err, database.ErrInvalidCredentials) {
			logger.Error("Failed to authenticate user", "username", username, "error", err)
		}
		respondError(c, http.StatusUnauthorized, "invalid username or password")
		return
	}

	startSession(c, db, user, http.StatusOK)
}

// handleGuestLogin signs the caller into the shared read-mostly guest
// account.
func handleGuestLogin(c *gin.Context) {
	db := c.MustGet("db").(*database.DB)

	guest, err := database.EnsureGuestUser(db)
	if err != nil {
		logger.Error("Failed to prepare guest account", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to create session")
		return
	}

	startSession(c, db, guest, http.StatusOK)
}

func startSession(c *gin.Context, db *database.DB, user *models.User, status int) {
	cfg := c.MustGet("config").(*config.Config)

	session, err := database.CreateSession(db, user.ID, cfg.SessionDuration)
	if err != nil {
		logger.Error("Failed to create session", "user_id", user.ID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to create session")
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	cookieMaxAge := int(cfg.SessionDuration.Seconds())
	c.SetCookie(middleware.SessionCookie, session.ID, cookieMaxAge, "/", "", !cfg.IsDevelopment(), true)

	respondOK(c, status, gin.H{
		"user":       user,
		"token":      session.ID,
		"expires_at": session.ExpiresAt,
	}, nil)
}

func handleLogout(c *gin.Context) {
	cfg := c.MustGet("config").(*config.Config)
	db := c.MustGet("db").(*database.DB)

	if token := middleware.CurrentSession(c); token != "" {
		if err := database.DeleteSession(db, token); err != nil {
			logger.Warn("Failed to delete session", "session", token, "error", err)
		}
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", !cfg.IsDevelopment(), true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func handleMe(c *gin.Context) {
	respondOK(c, http.StatusOK, middleware.CurrentUser(c), nil)
}

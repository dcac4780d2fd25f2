package handlers

import (
	"errors"
	"net/http"

	"github.com/KyleGowen/excelsior-sub010/internal/database"
	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/middleware"
	"github.com/KyleGowen/excelsior-sub010/internal/models"

	"github.com/gin-gonic/gin"
)

type roleRequest struct {
	Role string `json:"role"`
}

func handleListUsers(c *gin.Context) {
	db := c.MustGet("db").(*database.DB)

	users, err := database.GetAllUsers(db)
	if err != nil {
		logger.Error("Failed to list users", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to get users")
		return
	}
	respondOK(c, http.StatusOK, users, nil)
}

func handleUpdateUserRole(c *gin.Context) {
	db := c.MustGet("db").(*database.DB)
	admin := middleware.CurrentUser(c)

	var req roleRequest
	if !bindJSON(c, &req) {
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		respondError(c, http.StatusBadRequest, "role must be one of USER, GUEST, ADMIN")
		return
	}

	userID := c.Param("id")
	if userID == admin.ID {
		respondError(c, http.StatusBadRequest, "cannot modify your own role")
		return
	}

	if err := database.UpdateUserRole(db, userID, role); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(c, http.StatusNotFound, "user not found")
			return
		}
		logger.Error("Failed to update user role", "user_id", userID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to update role")
		return
	}

	logger.Info("User role updated", "admin_user_id", admin.ID, "user_id", userID, "role", role.String())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func handleRecalculateCardCounts(c *gin.Context) {
	changed, err := deckService(c).RecalculateCardCounts(c.Request.Context(), deckRequest(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"updated": changed}, nil)
}

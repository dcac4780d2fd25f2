package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/KyleGowen/excelsior-sub010/internal/decks"
	"github.com/KyleGowen/excelsior-sub010/internal/middleware"
	"github.com/KyleGowen/excelsior-sub010/internal/models"
	"github.com/KyleGowen/excelsior-sub010/internal/validation"

	"github.com/gin-gonic/gin"
)

type deckMetadata struct {
	IsOwner  bool `json:"isOwner"`
	ReadOnly bool `json:"readOnly"`
}

type deckView struct {
	*models.Deck
	Metadata   deckMetadata      `json:"metadata"`
	Validation validation.Result `json:"validation"`
}

type createDeckRequest struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	IsLimited          bool              `json:"is_limited"`
	Characters         []string          `json:"characters"`
	Cards              []models.DeckCard `json:"cards"`
	ReserveCharacterID string            `json:"reserve_character"`
	UIPreferences      json.RawMessage   `json:"ui_preferences"`
}

type updateDeckRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsLimited   *bool   `json:"is_limited"`
}

type cardRequest struct {
	CardType               string `json:"cardType"`
	CardID                 string `json:"cardId"`
	Quantity               int    `json:"quantity"`
	SelectedAlternateImage string `json:"selectedAlternateImage"`
}

type replaceCardsRequest struct {
	Cards []models.DeckCard `json:"cards"`
}

type reserveRequest struct {
	ReserveCharacterID string `json:"reserve_character"`
}

type validateRequest struct {
	Cards              []models.DeckCard `json:"cards"`
	ReserveCharacterID string            `json:"reserve_character"`
}

func deckService(c *gin.Context) *decks.Service {
	return c.MustGet("deck_service").(*decks.Service)
}

func deckRequest(c *gin.Context) decks.Request {
	user := middleware.CurrentUser(c)
	return decks.Request{
		User:          *user,
		ClientAddress: c.ClientIP(),
		ReadOnly:      middleware.IsReadOnly(c),
	}
}

func viewOf(c *gin.Context, res *decks.Result) deckView {
	user := middleware.CurrentUser(c)
	return deckView{
		Deck: res.Deck,
		Metadata: deckMetadata{
			IsOwner:  res.Deck.OwnerID == user.ID,
			ReadOnly: middleware.IsReadOnly(c),
		},
		Validation: res.Validation,
	}
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func handleListDecks(c *gin.Context) {
	summaries, err := deckService(c).List(deckRequest(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, summaries, nil)
}

func handleGetDeck(c *gin.Context) {
	res, err := deckService(c).Get(deckRequest(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, viewOf(c, res), nil)
}

func handleCreateDeck(c *gin.Context) {
	var req createDeckRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := deckService(c).Create(c.Request.Context(), deckRequest(c), decks.CreateInput{
		Name:               req.Name,
		Description:        req.Description,
		IsLimited:          req.IsLimited,
		Characters:         req.Characters,
		Cards:              req.Cards,
		ReserveCharacterID: req.ReserveCharacterID,
		UIPreferences:      req.UIPreferences,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, viewOf(c, res), res.Warnings)
}

func handleUpdateDeck(c *gin.Context) {
	var req updateDeckRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := deckService(c).UpdateMetadata(c.Request.Context(), deckRequest(c), c.Param("id"), decks.MetadataInput{
		Name:        req.Name,
		Description: req.Description,
		IsLimited:   req.IsLimited,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, viewOf(c, res), res.Warnings)
}

func handleDeleteDeck(c *gin.Context) {
	if err := deckService(c).Delete(c.Request.Context(), deckRequest(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func handleAddCard(c *gin.Context) {
	var req cardRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := deckService(c).AddCard(c.Request.Context(), deckRequest(c), c.Param("id"), decks.AddCardInput{
		Type:                   req.CardType,
		CardID:                 req.CardID,
		Quantity:               req.Quantity,
		SelectedAlternateImage: req.SelectedAlternateImage,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, viewOf(c, res), res.Warnings)
}

func handleRemoveCard(c *gin.Context) {
	var req cardRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := deckService(c).RemoveCard(c.Request.Context(), deckRequest(c), c.Param("id"), decks.RemoveCardInput{
		Type:     req.CardType,
		CardID:   req.CardID,
		Quantity: req.Quantity,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, viewOf(c, res), res.Warnings)
}

func handleReplaceCards(c *gin.Context) {
	var req replaceCardsRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := deckService(c).ReplaceCards(c.Request.Context(), deckRequest(c), c.Param("id"), req.Cards)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, viewOf(c, res), res.Warnings)
}

func handleSetReserve(c *gin.Context) {
	var req reserveRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := deckService(c).SetReserveCharacter(c.Request.Context(), deckRequest(c), c.Param("id"), req.ReserveCharacterID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, viewOf(c, res), res.Warnings)
}

func handleGetUIPreferences(c *gin.Context) {
	prefs, err := deckService(c).UIPreferences(deckRequest(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, prefs, nil)
}

func handleUpdateUIPreferences(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	prefs, err := deckService(c).UpdateUIPreferences(c.Request.Context(), deckRequest(c), c.Param("id"), json.RawMessage(body))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, prefs, nil)
}

func handleValidateDeck(c *gin.Context) {
	var req validateRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Cards == nil {
		respondError(c, http.StatusBadRequest, "cards array is required")
		return
	}

	res, err := deckService(c).Validate(deckRequest(c), req.Cards, req.ReserveCharacterID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"isValid":  res.IsLegal(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	}, nil)
}

func handleDeckStats(c *gin.Context) {
	stats, err := deckService(c).Stats(deckRequest(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, stats, nil)
}

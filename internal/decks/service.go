// Package decks is the entry point for every deck operation. Each call is
// authorized, applied to the store and checked for legality.
package decks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/KyleGowen/excelsior-sub010/internal/authz"
	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/models"
	"github.com/KyleGowen/excelsior-sub010/internal/store"
	"github.com/KyleGowen/excelsior-sub010/internal/validation"
)

// Request identifies who is asking and how.
type Request struct {
	User          models.User
	ClientAddress string
	ReadOnly      bool
}

// Error is a failure the caller can show to the client as is.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type Result struct {
	Deck       *models.Deck
	Warnings   []string
	Validation validation.Result
}

type Service struct {
	store     *store.Store
	gate      *authz.Gate
	validator *validation.Validator
}

func NewService(st *store.Store, gate *authz.Gate, validator *validation.Validator) *Service {
	return &Service{store: st, gate: gate, validator: validator}
}

// StoreOptions are the hooks the store needs so that isValid and the
// single-location rule are maintained on every write.
func StoreOptions(validator *validation.Validator) []store.Option {
	return []store.Option{
		store.WithLegality(validator.IsLegal),
		store.WithCardRepair(RepairLocations),
	}
}

func (s *Service) authorize(req Request, op authz.Operation, deckID string, payload authz.Payload) (*models.Deck, error) {
	var deck *models.Deck
	if deckID != "" {
		deck, _ = s.store.Get(deckID)
	}

	denial := s.gate.Authorize(&authz.Context{
		User:          req.User,
		Operation:     op,
		TargetID:      deckID,
		Deck:          deck,
		ReadOnly:      req.ReadOnly,
		ClientAddress: req.ClientAddress,
		Payload:       payload,
	})
	if denial != nil {
		logger.Warn("Deck operation denied",
			"operation", string(op),
			"user_id", req.User.ID,
			"deck_id", deckID,
			"status", denial.Status,
			"reason", denial.Reason)
		return nil, &Error{Status: denial.Status, Message: denial.Reason}
	}
	return deck, nil
}

func storeError(err error, op authz.Operation, deckID string) error {
	switch {
	case errors.Is(err, store.ErrDeckNotFound):
		return &Error{Status: http.StatusNotFound, Message: "deck not found"}
	case errors.Is(err, store.ErrPersistence):
		return &Error{Status: http.StatusInternalServerError, Message: "failed to save deck"}
	default:
		logger.Error("Deck operation failed", "operation", string(op), "deck_id", deckID, "error", err)
		return &Error{Status: http.StatusInternalServerError, Message: "internal server error"}
	}
}

func (s *Service) result(deck *models.Deck, warnings []string) *Result {
	if warnings == nil {
		warnings = []string{}
	}
	return &Result{
		Deck:       deck,
		Warnings:   warnings,
		Validation: s.validator.Validate(deck.Cards, deck.ReserveCharacterID),
	}
}

func (s *Service) List(req Request) ([]models.DeckSummary, error) {
	if _, err := s.authorize(req, authz.OpList, "", authz.Payload{}); err != nil {
		return nil, err
	}

	decks := s.store.ListByOwner(req.User.ID)
	summaries := make([]models.DeckSummary, 0, len(decks))
	for _, deck := range decks {
		summaries = append(summaries, Summarize(deck))
	}
	return summaries, nil
}

// Get returns any deck to any caller; ownership only gates mutation.
func (s *Service) Get(req Request, deckID string) (*Result, error) {
	deck, err := s.authorize(req, authz.OpRead, deckID, authz.Payload{})
	if err != nil {
		return nil, err
	}
	return s.result(deck, nil), nil
}

type CreateInput struct {
	Name               string
	Description        string
	IsLimited          bool
	Characters         []string
	Cards              []models.DeckCard
	ReserveCharacterID string
	UIPreferences      json.RawMessage
}

func (s *Service) Create(ctx context.Context, req Request, in CreateInput) (*Result, error) {
	payload := authz.Payload{
		Name:          &in.Name,
		Description:   &in.Description,
		Cards:         in.Cards,
		Characters:    in.Characters,
		UIPreferences: in.UIPreferences,
	}
	if _, err := s.authorize(req, authz.OpCreate, "", payload); err != nil {
		return nil, err
	}

	cards := make([]models.DeckCard, 0, len(in.Characters)+len(in.Cards))
	for _, id := range in.Characters {
		cards = append(cards, models.DeckCard{Type: models.CardTypeCharacter, CardID: id, Quantity: 1})
	}
	cards = append(cards, in.Cards...)

	if in.ReserveCharacterID != "" && !hasCharacter(cards, in.ReserveCharacterID) {
		return nil, errReserveNotInDeck
	}

	deck, err := s.store.Create(ctx, req.User.ID, store.NewDeck{
		Name:               in.Name,
		Description:        in.Description,
		IsLimited:          in.IsLimited,
		Cards:              cards,
		ReserveCharacterID: in.ReserveCharacterID,
		UIPreferences:      in.UIPreferences,
	})
	if err != nil {
		return nil, storeError(err, authz.OpCreate, "")
	}

	logger.Info("Deck created", "deck_id", deck.ID, "user_id", req.User.ID, "cards", len(deck.Cards))
	return s.result(deck, repairWarnings(locationQuantity(cards), deck.Cards)), nil
}

type MetadataInput struct {
	Name        *string
	Description *string
	IsLimited   *bool
}

func (s *Service) UpdateMetadata(ctx context.Context, req Request, deckID string, in MetadataInput) (*Result, error) {
	payload := authz.Payload{Name: in.Name, Description: in.Description}
	if _, err := s.authorize(req, authz.OpUpdate, deckID, payload); err != nil {
		return nil, err
	}

	deck, err := s.store.UpdateMetadata(ctx, deckID, store.MetadataUpdate{
		Name:        in.Name,
		Description: in.Description,
		IsLimited:   in.IsLimited,
	})
	if err != nil {
		return nil, storeError(err, authz.OpUpdate, deckID)
	}
	return s.result(deck, nil), nil
}

type AddCardInput struct {
	Type                   string
	CardID                 string
	Quantity               int
	SelectedAlternateImage string
}

func (s *Service) AddCard(ctx context.Context, req Request, deckID string, in AddCardInput) (*Result, error) {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	payload := authz.Payload{CardType: &in.Type, CardID: &in.CardID, Quantity: &in.Quantity}
	before, err := s.authorize(req, authz.OpAddCard, deckID, payload)
	if err != nil {
		return nil, err
	}

	requested := locationQuantity(before.Cards)
	if in.Type == models.CardTypeLocation {
		requested += in.Quantity
	}

	deck, err := s.store.AddCard(ctx, deckID, in.Type, in.CardID, in.Quantity, in.SelectedAlternateImage)
	if err != nil {
		return nil, storeError(err, authz.OpAddCard, deckID)
	}
	return s.result(deck, repairWarnings(requested, deck.Cards)), nil
}

type RemoveCardInput struct {
	Type     string
	CardID   string
	Quantity int
}

func (s *Service) RemoveCard(ctx context.Context, req Request, deckID string, in RemoveCardInput) (*Result, error) {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	payload := authz.Payload{CardType: &in.Type, CardID: &in.CardID, Quantity: &in.Quantity}
	before, err := s.authorize(req, authz.OpRemoveCard, deckID, payload)
	if err != nil {
		return nil, err
	}

	deck, err := s.store.RemoveCard(ctx, deckID, in.Type, in.CardID, in.Quantity)
	if err != nil {
		return nil, storeError(err, authz.OpRemoveCard, deckID)
	}
	return s.result(deck, reserveWarnings(before, deck)), nil
}

func (s *Service) ReplaceCards(ctx context.Context, req Request, deckID string, cards []models.DeckCard) (*Result, error) {
	payload := authz.Payload{Cards: cards, HasCards: cards != nil}
	before, err := s.authorize(req, authz.OpReplaceCards, deckID, payload)
	if err != nil {
		return nil, err
	}

	deck, err := s.store.ReplaceAllCards(ctx, deckID, cards)
	if err != nil {
		return nil, storeError(err, authz.OpReplaceCards, deckID)
	}

	warnings := repairWarnings(locationQuantity(cards), deck.Cards)
	warnings = append(warnings, reserveWarnings(before, deck)...)
	return s.result(deck, warnings), nil
}

var errReserveNotInDeck = &Error{
	Status:  http.StatusBadRequest,
	Message: "reserve character must be one of the deck's characters",
}

// SetReserveCharacter points the reserve at one of the deck's characters.
// An empty id clears it.
func (s *Service) SetReserveCharacter(ctx context.Context, req Request, deckID, characterID string) (*Result, error) {
	before, err := s.authorize(req, authz.OpSetReserve, deckID, authz.Payload{})
	if err != nil {
		return nil, err
	}
	if characterID != "" && !hasCharacter(before.Cards, characterID) {
		return nil, errReserveNotInDeck
	}

	deck, err := s.store.UpdateMetadata(ctx, deckID, store.MetadataUpdate{ReserveCharacterID: &characterID})
	if err != nil {
		return nil, storeError(err, authz.OpSetReserve, deckID)
	}
	return s.result(deck, nil), nil
}

// UIPreferences returns the owner's stored view settings, or an empty
// object when none were saved.
func (s *Service) UIPreferences(req Request, deckID string) (json.RawMessage, error) {
	deck, err := s.authorize(req, authz.OpReadUIPreferences, deckID, authz.Payload{})
	if err != nil {
		return nil, err
	}
	if len(deck.UIPreferences) == 0 {
		return json.RawMessage("{}"), nil
	}
	return deck.UIPreferences, nil
}

func (s *Service) UpdateUIPreferences(ctx context.Context, req Request, deckID string, prefs json.RawMessage) (json.RawMessage, error) {
	payload := authz.Payload{UIPreferences: prefs}
	if prefs == nil {
		payload.UIPreferences = []byte("null")
	}
	if _, err := s.authorize(req, authz.OpUIPreferences, deckID, payload); err != nil {
		return nil, err
	}

	deck, err := s.store.UpdateMetadata(ctx, deckID, store.MetadataUpdate{UIPreferences: prefs})
	if err != nil {
		return nil, storeError(err, authz.OpUIPreferences, deckID)
	}
	return deck.UIPreferences, nil
}

func (s *Service) Delete(ctx context.Context, req Request, deckID string) error {
	if _, err := s.authorize(req, authz.OpDelete, deckID, authz.Payload{}); err != nil {
		return err
	}

	deleted, err := s.store.Delete(ctx, deckID)
	if err != nil {
		return storeError(err, authz.OpDelete, deckID)
	}
	if !deleted {
		return &Error{Status: http.StatusNotFound, Message: "deck not found"}
	}

	logger.Info("Deck deleted", "deck_id", deckID, "user_id", req.User.ID)
	return nil
}

// Validate checks an arbitrary card list without storing anything.
func (s *Service) Validate(req Request, cards []models.DeckCard, reserveCharacterID string) (validation.Result, error) {
	if _, err := s.authorize(req, authz.OpValidate, "", authz.Payload{}); err != nil {
		return validation.Result{}, err
	}
	return s.validator.Validate(cards, reserveCharacterID), nil
}

// Stats summarises the caller's own decks.
func (s *Service) Stats(req Request) (models.DeckStats, error) {
	if _, err := s.authorize(req, authz.OpStats, "", authz.Payload{}); err != nil {
		return models.DeckStats{}, err
	}

	decks := s.store.ListByOwner(req.User.ID)
	stats := models.DeckStats{TotalDecks: len(decks)}
	for _, deck := range decks {
		size := deck.TotalCards()
		stats.TotalCards += size
		if size > stats.LargestDeckSize {
			stats.LargestDeckSize = size
		}
	}
	if stats.TotalDecks > 0 {
		stats.AverageCardsPerDeck = int(math.Round(float64(stats.TotalCards) / float64(stats.TotalDecks)))
	}
	return stats, nil
}

// RecalculateCardCounts rewrites the derived fields of every deck.
func (s *Service) RecalculateCardCounts(ctx context.Context, req Request) (int, error) {
	if req.User.Role != models.RoleAdmin {
		return 0, &Error{Status: http.StatusForbidden, Message: "admin access required"}
	}

	changed, err := s.store.RecalculateAllCardCounts(ctx)
	if err != nil {
		return 0, storeError(err, "recalculate", "")
	}

	logger.Info("Card counts recalculated", "user_id", req.User.ID, "changed", changed)
	return changed, nil
}

func Summarize(deck *models.Deck) models.DeckSummary {
	return models.DeckSummary{
		ID:            deck.ID,
		Name:          deck.Name,
		Description:   deck.Description,
		Created:       deck.CreatedAt,
		LastModified:  deck.UpdatedAt,
		CardCount:     deck.CardCount,
		UserID:        deck.OwnerID,
		IsLimited:     deck.IsLimited,
		IsValid:       deck.IsValid,
		UIPreferences: deck.UIPreferences,
	}
}

// RepairLocations keeps the first location entry at a single copy and
// drops every other location.
func RepairLocations(cards []models.DeckCard) ([]models.DeckCard, int) {
	repaired := make([]models.DeckCard, 0, len(cards))
	removed := 0
	kept := false
	for _, card := range cards {
		if card.Type != models.CardTypeLocation {
			repaired = append(repaired, card)
			continue
		}
		if kept {
			removed += card.Quantity
			continue
		}
		kept = true
		if card.Quantity > 1 {
			removed += card.Quantity - 1
			card.Quantity = 1
		}
		repaired = append(repaired, card)
	}
	return repaired, removed
}

func repairWarnings(requestedLocations int, after []models.DeckCard) []string {
	removed := requestedLocations - locationQuantity(after)
	if removed <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("removed %d extra location card(s); a deck may contain only one location", removed)}
}

func reserveWarnings(before, after *models.Deck) []string {
	if before == nil || before.ReserveCharacterID == "" || after.ReserveCharacterID != "" {
		return nil
	}
	return []string{fmt.Sprintf("reserve character %s was cleared because it is no longer in the deck", before.ReserveCharacterID)}
}

func locationQuantity(cards []models.DeckCard) int {
	total := 0
	for _, card := range cards {
		if card.Type == models.CardTypeLocation {
			total += card.Quantity
		}
	}
	return total
}

func hasCharacter(cards []models.DeckCard, cardID string) bool {
	for _, card := range cards {
		if card.Type == models.CardTypeCharacter && card.CardID == cardID {
			return true
		}
	}
	return false
}

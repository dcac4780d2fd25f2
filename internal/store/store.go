// Package store holds every deck in memory and writes each change through
// to a durable Persister.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KyleGowen/excelsior-sub010/internal/logger"
	"github.com/KyleGowen/excelsior-sub010/internal/models"

	"github.com/google/uuid"
)

var (
	ErrDeckNotFound = errors.New("deck not found")
	ErrPersistence  = errors.New("failed to persist deck")
)

// Persister is the durable medium behind the store.
type Persister interface {
	LoadDecks(ctx context.Context) ([]models.Deck, error)
	SaveDeck(ctx context.Context, deck models.Deck) error
	SaveDecks(ctx context.Context, decks []models.Deck) error
	DeleteDeck(ctx context.Context, deckID string) error
}

// LegalityFunc decides a deck's isValid flag.
type LegalityFunc func(cards []models.DeckCard, reserveCharacterID string) bool

// RepairFunc rewrites a card list that would break a structural rule and
// reports how many cards it dropped.
type RepairFunc func(cards []models.DeckCard) ([]models.DeckCard, int)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLegality(fn LegalityFunc) Option {
	return func(s *Store) { s.legal = fn }
}

// WithCardRepair runs fn after create, add and replace.
func WithCardRepair(fn RepairFunc) Option {
	return func(s *Store) { s.repair = fn }
}

// Store is the single writer for deck state. All reads hand out copies.
type Store struct {
	mu        sync.Mutex
	decks     map[string]*models.Deck
	persister Persister
	legal     LegalityFunc
	repair    RepairFunc
	now       func() time.Time

	pendingSaves   map[string]bool
	pendingDeletes map[string]bool
}

func New(persister Persister, opts ...Option) *Store {
	s := &Store{
		decks:          make(map[string]*models.Deck),
		persister:      persister,
		now:            func() time.Time { return time.Now().UTC() },
		pendingSaves:   make(map[string]bool),
		pendingDeletes: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with what the persister holds.
func (s *Store) Load(ctx context.Context) error {
	decks, err := s.persister.LoadDecks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load decks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.decks = make(map[string]*models.Deck, len(decks))
	for i := range decks {
		deck := decks[i]
		s.decks[deck.ID] = &deck
	}
	logger.Info("Deck store loaded", "decks", len(decks))
	return nil
}

// NewDeck is the caller-supplied part of a deck at creation time.
type NewDeck struct {
	Name               string
	Description        string
	IsLimited          bool
	Cards              []models.DeckCard
	ReserveCharacterID string
	UIPreferences      json.RawMessage
}

func (s *Store) Create(ctx context.Context, ownerID string, input NewDeck) (*models.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deck := &models.Deck{
		ID:                 uuid.New().String(),
		OwnerID:            ownerID,
		Name:               input.Name,
		Description:        input.Description,
		IsLimited:          input.IsLimited,
		Cards:              mergeCards(input.Cards),
		ReserveCharacterID: input.ReserveCharacterID,
		UIPreferences:      input.UIPreferences,
		CreatedAt:          now,
	}
	s.repairCards(deck)
	s.finalize(deck, now)
	s.decks[deck.ID] = deck

	return deck.Clone(), s.flushLocked(ctx, deck.ID)
}

func (s *Store) Get(deckID string) (*models.Deck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deck, ok := s.decks[deckID]
	if !ok {
		return nil, false
	}
	return deck.Clone(), true
}

// ListAll returns every deck, oldest first.
func (s *Store) ListAll() []*models.Deck {
	return s.list(func(*models.Deck) bool { return true })
}

func (s *Store) ListByOwner(ownerID string) []*models.Deck {
	return s.list(func(d *models.Deck) bool { return d.OwnerID == ownerID })
}

func (s *Store) list(keep func(*models.Deck) bool) []*models.Deck {
	s.mu.Lock()
	defer s.mu.Unlock()

	decks := make([]*models.Deck, 0, len(s.decks))
	for _, deck := range s.decks {
		if keep(deck) {
			decks = append(decks, deck.Clone())
		}
	}
	sort.Slice(decks, func(i, j int) bool {
		if decks[i].CreatedAt.Equal(decks[j].CreatedAt) {
			return decks[i].ID < decks[j].ID
		}
		return decks[i].CreatedAt.Before(decks[j].CreatedAt)
	})
	return decks
}

// MetadataUpdate carries the fields a caller may change. Nil means
// unchanged. isValid is deliberately absent.
type MetadataUpdate struct {
	Name               *string
	Description        *string
	IsLimited          *bool
	ReserveCharacterID *string
	UIPreferences      json.RawMessage
}

func (s *Store) UpdateMetadata(ctx context.Context, deckID string, update MetadataUpdate) (*models.Deck, error) {
	return s.mutate(ctx, deckID, func(deck *models.Deck) bool {
		if update.Name != nil {
			deck.Name = *update.Name
		}
		if update.Description != nil {
			deck.Description = *update.Description
		}
		if update.IsLimited != nil {
			deck.IsLimited = *update.IsLimited
		}
		if update.ReserveCharacterID != nil {
			deck.ReserveCharacterID = *update.ReserveCharacterID
		}
		if update.UIPreferences != nil {
			deck.UIPreferences = append(json.RawMessage(nil), update.UIPreferences...)
		}
		return true
	})
}

// AddCard merges into an existing (type, cardId) entry or appends a new one.
func (s *Store) AddCard(ctx context.Context, deckID, cardType, cardID string, quantity int, alternateImage string) (*models.Deck, error) {
	return s.mutate(ctx, deckID, func(deck *models.Deck) bool {
		if i := indexOf(deck.Cards, cardType, cardID); i >= 0 {
			deck.Cards[i].Quantity += quantity
			if alternateImage != "" {
				deck.Cards[i].SelectedAlternateImage = alternateImage
			}
		} else {
			deck.Cards = append(deck.Cards, models.DeckCard{
				ID:                     uuid.New().String(),
				Type:                   cardType,
				CardID:                 cardID,
				Quantity:               quantity,
				SelectedAlternateImage: alternateImage,
			})
		}
		s.repairCards(deck)
		return true
	})
}

// RemoveCard decrements an entry, dropping it when the quantity reaches
// zero. Type "all" empties the deck. A card that is not in the deck leaves
// the deck untouched.
func (s *Store) RemoveCard(ctx context.Context, deckID, cardType, cardID string, quantity int) (*models.Deck, error) {
	if quantity < 1 {
		quantity = 1
	}
	return s.mutate(ctx, deckID, func(deck *models.Deck) bool {
		if cardType == models.CardTypeAll {
			deck.Cards = []models.DeckCard{}
			return true
		}

		i := indexOf(deck.Cards, cardType, cardID)
		if i < 0 {
			return false
		}
		if deck.Cards[i].Quantity > quantity {
			deck.Cards[i].Quantity -= quantity
		} else {
			deck.Cards = append(deck.Cards[:i], deck.Cards[i+1:]...)
		}
		return true
	})
}

// ReplaceAllCards swaps the whole card list in one step.
func (s *Store) ReplaceAllCards(ctx context.Context, deckID string, cards []models.DeckCard) (*models.Deck, error) {
	merged := mergeCards(cards)
	return s.mutate(ctx, deckID, func(deck *models.Deck) bool {
		deck.Cards = merged
		s.repairCards(deck)
		return true
	})
}

// Delete reports false for an unknown deck.
func (s *Store) Delete(ctx context.Context, deckID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decks[deckID]; !ok {
		return false, nil
	}
	delete(s.decks, deckID)
	delete(s.pendingSaves, deckID)
	s.pendingDeletes[deckID] = true

	return true, s.flushLocked(ctx)
}

// RecalculateAllCardCounts recomputes every derived field and writes all
// decks in one flush. It returns how many card counts changed.
func (s *Store) RecalculateAllCardCounts(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	ids := make([]string, 0, len(s.decks))
	for id, deck := range s.decks {
		count := CardCount(deck.Cards)
		if count != deck.CardCount {
			changed++
		}
		deck.CardCount = count
		deck.IsValid = s.isLegal(deck)
		ids = append(ids, id)
	}

	return changed, s.flushLocked(ctx, ids...)
}

// Flush retries any writes that previously failed.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Pending is the number of deck writes still waiting on the persister.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingSaves) + len(s.pendingDeletes)
}

// CardCount sums quantities over the playable cards. Characters, missions
// and locations are not counted.
func CardCount(cards []models.DeckCard) int {
	total := 0
	for _, card := range cards {
		switch card.Type {
		case models.CardTypeCharacter, models.CardTypeMission, models.CardTypeLocation:
		default:
			total += card.Quantity
		}
	}
	return total
}

func (s *Store) mutate(ctx context.Context, deckID string, apply func(*models.Deck) bool) (*models.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deck, ok := s.decks[deckID]
	if !ok {
		return nil, ErrDeckNotFound
	}

	if !apply(deck) {
		return deck.Clone(), nil
	}
	s.finalize(deck, s.now())

	return deck.Clone(), s.flushLocked(ctx, deck.ID)
}

// finalize recomputes the derived fields after any change.
func (s *Store) finalize(deck *models.Deck, now time.Time) {
	if deck.Cards == nil {
		deck.Cards = []models.DeckCard{}
	}
	if deck.ReserveCharacterID != "" && indexOf(deck.Cards, models.CardTypeCharacter, deck.ReserveCharacterID) < 0 {
		deck.ReserveCharacterID = ""
	}
	deck.CardCount = CardCount(deck.Cards)
	deck.IsValid = s.isLegal(deck)
	deck.UpdatedAt = now
}

func (s *Store) isLegal(deck *models.Deck) bool {
	if s.legal == nil {
		return false
	}
	return s.legal(deck.Cards, deck.ReserveCharacterID)
}

func (s *Store) repairCards(deck *models.Deck) {
	if s.repair == nil {
		return
	}
	deck.Cards, _ = s.repair(deck.Cards)
}

func (s *Store) flushLocked(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		s.pendingSaves[id] = true
	}

	var errs []error

	for id := range s.pendingDeletes {
		if err := s.persister.DeleteDeck(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(s.pendingDeletes, id)
	}

	if len(s.pendingSaves) > 0 {
		decks := make([]models.Deck, 0, len(s.pendingSaves))
		for id := range s.pendingSaves {
			if deck, ok := s.decks[id]; ok {
				decks = append(decks, *deck.Clone())
			}
		}

		var err error
		if len(decks) == 1 {
			err = s.persister.SaveDeck(ctx, decks[0])
		} else if len(decks) > 1 {
			err = s.persister.SaveDecks(ctx, decks)
		}
		if err != nil {
			errs = append(errs, err)
		} else {
			s.pendingSaves = make(map[string]bool)
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.Error("Failed to flush decks", "error", err, "pending", len(s.pendingSaves)+len(s.pendingDeletes))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func indexOf(cards []models.DeckCard, cardType, cardID string) int {
	for i, card := range cards {
		if card.Type == cardType && card.CardID == cardID {
			return i
		}
	}
	return -1
}

// mergeCards collapses duplicate (type, cardId) entries, keeps first-seen
// order, drops empty entries and assigns fresh entry ids.
func mergeCards(cards []models.DeckCard) []models.DeckCard {
	merged := make([]models.DeckCard, 0, len(cards))
	for _, card := range cards {
		if card.Quantity <= 0 {
			continue
		}
		if i := indexOf(merged, card.Type, card.CardID); i >= 0 {
			merged[i].Quantity += card.Quantity
			if merged[i].SelectedAlternateImage == "" {
				merged[i].SelectedAlternateImage = card.SelectedAlternateImage
			}
			continue
		}
		card.ID = uuid.New().String()
		merged = append(merged, card)
	}
	return merged
}

package authz

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/KyleGowen/excelsior-sub010/internal/models"
	"github.com/KyleGowen/excelsior-sub010/internal/validation"
)

const (
	MaxNameLength          = 100
	MaxDescriptionLength   = 500
	MinQuantity            = 1
	MaxQuantity            = 10
	MaxBulkCards           = 100
	MaxSeedCharacters      = 50
	MaxUIPreferencesLength = 1000
)

var viewModes = map[string]bool{"tile": true, "list": true}

func checkInput(_ *Gate, ctx *Context) *Denial {
	p := ctx.Payload

	if ctx.Operation == OpCreate && p.Name == nil {
		return deny(http.StatusBadRequest, "deck name is required")
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return deny(http.StatusBadRequest, "deck name is required")
		}
		if utf8.RuneCountInString(*p.Name) > MaxNameLength {
			return deny(http.StatusBadRequest, "deck name must be at most %d characters", MaxNameLength)
		}
	}
	if p.Description != nil && utf8.RuneCountInString(*p.Description) > MaxDescriptionLength {
		return deny(http.StatusBadRequest, "description must be at most %d characters", MaxDescriptionLength)
	}

	switch ctx.Operation {
	case OpAddCard:
		if d := checkCardRef(p.CardType, p.CardID, false); d != nil {
			return d
		}
		if p.Quantity != nil && (*p.Quantity < MinQuantity || *p.Quantity > MaxQuantity) {
			return deny(http.StatusBadRequest, "quantity must be between %d and %d", MinQuantity, MaxQuantity)
		}
	case OpRemoveCard:
		if d := checkCardRef(p.CardType, p.CardID, true); d != nil {
			return d
		}
		if p.Quantity != nil && *p.Quantity < MinQuantity {
			return deny(http.StatusBadRequest, "quantity must be at least %d", MinQuantity)
		}
	case OpReplaceCards:
		if !p.HasCards {
			return deny(http.StatusBadRequest, "cards is required")
		}
	}

	if d := checkCards(p.Cards); d != nil {
		return d
	}

	if len(p.Characters) > MaxSeedCharacters {
		return deny(http.StatusBadRequest, "characters must contain at most %d entries", MaxSeedCharacters)
	}
	for i, id := range p.Characters {
		if strings.TrimSpace(id) == "" {
			return deny(http.StatusBadRequest, "characters[%d]: card id is required", i)
		}
	}

	if p.UIPreferences != nil {
		return checkUIPreferences(p.UIPreferences)
	}
	return nil
}

func checkCardRef(cardType, cardID *string, allowAll bool) *Denial {
	if cardType == nil || strings.TrimSpace(*cardType) == "" {
		return deny(http.StatusBadRequest, "card type is required")
	}
	if allowAll && *cardType == models.CardTypeAll {
		return nil
	}
	if !validation.KnownCardType(*cardType) {
		return deny(http.StatusBadRequest, "invalid card type %q", *cardType)
	}
	if cardID == nil || strings.TrimSpace(*cardID) == "" {
		return deny(http.StatusBadRequest, "card id is required")
	}
	return nil
}

// checkCards validates a bulk card list. Quantities above MaxQuantity are
// accepted here since repeated adds can legitimately produce them.
func checkCards(cards []models.DeckCard) *Denial {
	if len(cards) > MaxBulkCards {
		return deny(http.StatusBadRequest, "cards must contain at most %d entries", MaxBulkCards)
	}
	for i, card := range cards {
		if strings.TrimSpace(card.Type) == "" {
			return deny(http.StatusBadRequest, "cards[%d]: card type is required", i)
		}
		if !validation.KnownCardType(card.Type) {
			return deny(http.StatusBadRequest, "cards[%d]: invalid card type %q", i, card.Type)
		}
		if strings.TrimSpace(card.CardID) == "" {
			return deny(http.StatusBadRequest, "cards[%d]: card id is required", i)
		}
		if card.Quantity < MinQuantity {
			return deny(http.StatusBadRequest, "cards[%d]: quantity must be at least %d", i, MinQuantity)
		}
	}
	return nil
}

func checkUIPreferences(raw []byte) *Denial {
	if len(raw) > MaxUIPreferencesLength {
		return deny(http.StatusBadRequest, "ui preferences must be at most %d characters", MaxUIPreferencesLength)
	}

	var prefs map[string]interface{}
	if err := json.Unmarshal(raw, &prefs); err != nil || prefs == nil {
		return deny(http.StatusBadRequest, "ui preferences must be a JSON object")
	}

	if mode, ok := prefs["viewMode"]; ok {
		s, isString := mode.(string)
		if !isString || !viewModes[s] {
			return deny(http.StatusBadRequest, "viewMode must be one of: tile, list")
		}
	}
	return nil
}

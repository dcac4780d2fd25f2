package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role int

const (
	RoleUser Role = iota
	RoleGuest
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "USER"
	case RoleGuest:
		return "GUEST"
	case RoleAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USER":
		return RoleUser, nil
	case "GUEST":
		return RoleGuest, nil
	case "ADMIN":
		return RoleAdmin, nil
	default:
		return RoleUser, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Card types known to the catalog.
const (
	CardTypeCharacter        = "character"
	CardTypeLocation         = "location"
	CardTypeMission          = "mission"
	CardTypeSpecial          = "special"
	CardTypePower            = "power"
	CardTypeEvent            = "event"
	CardTypeAspect           = "aspect"
	CardTypeAdvancedUniverse = "advanced_universe"
	CardTypeTeamwork         = "teamwork"
	CardTypeAllyUniverse     = "ally_universe"
	CardTypeTraining         = "training"
	CardTypeBasicUniverse    = "basic_universe"

	// CardTypeAll is only meaningful to RemoveCard, where it clears the deck.
	CardTypeAll = "all"
)

type DeckCard struct {
	ID                     string `json:"id" db:"id"`
	Type                   string `json:"type" db:"card_type"`
	CardID                 string `json:"cardId" db:"card_id"`
	Quantity               int    `json:"quantity" db:"quantity"`
	SelectedAlternateImage string `json:"selectedAlternateImage,omitempty" db:"selected_alternate_image"`
}

type Deck struct {
	ID                 string          `json:"id" db:"id"`
	OwnerID            string          `json:"user_id" db:"user_id"`
	Name               string          `json:"name" db:"name"`
	Description        string          `json:"description" db:"description"`
	Cards              []DeckCard      `json:"cards" db:"-"`
	CardCount          int             `json:"card_count" db:"card_count"`
	IsLimited          bool            `json:"is_limited" db:"is_limited"`
	IsValid            bool            `json:"is_valid" db:"is_valid"`
	ReserveCharacterID string          `json:"reserve_character,omitempty" db:"reserve_character"`
	UIPreferences      json.RawMessage `json:"ui_preferences,omitempty" db:"ui_preferences"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so callers never share card slices with the store.
func (d *Deck) Clone() *Deck {
	if d == nil {
		return nil
	}
	c := *d
	c.Cards = make([]DeckCard, len(d.Cards))
	copy(c.Cards, d.Cards)
	if d.UIPreferences != nil {
		c.UIPreferences = append(json.RawMessage(nil), d.UIPreferences...)
	}
	return &c
}

// TotalCards counts every card quantity, characters and missions included.
func (d *Deck) TotalCards() int {
	total := 0
	for _, card := range d.Cards {
		total += card.Quantity
	}
	return total
}

// CardAttributes is what the catalog knows about a single card.
type CardAttributes struct {
	CardID        string `json:"id" yaml:"id"`
	CardType      string `json:"type" yaml:"type"`
	Name          string `json:"name" yaml:"name"`
	Threat        int    `json:"threat,omitempty" yaml:"threat"`
	Energy        int    `json:"energy,omitempty" yaml:"energy"`
	Combat        int    `json:"combat,omitempty" yaml:"combat"`
	BruteForce    int    `json:"brute_force,omitempty" yaml:"brute_force"`
	Intelligence  int    `json:"intelligence,omitempty" yaml:"intelligence"`
	PowerType     string `json:"power_type,omitempty" yaml:"power_type"`
	Value         int    `json:"value,omitempty" yaml:"value"`
	MissionSet    string `json:"mission_set,omitempty" yaml:"mission_set"`
	CharacterName string `json:"character_name,omitempty" yaml:"character_name"`
	OnePerDeck    bool   `json:"one_per_deck,omitempty" yaml:"one_per_deck"`
	MaxPerDeck    int    `json:"max_per_deck,omitempty" yaml:"max_per_deck"`
}

type DeckSummary struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Created       time.Time       `json:"created"`
	LastModified  time.Time       `json:"lastModified"`
	CardCount     int             `json:"cardCount"`
	UserID        string          `json:"userId"`
	IsLimited     bool            `json:"is_limited"`
	IsValid       bool            `json:"is_valid"`
	UIPreferences json.RawMessage `json:"uiPreferences,omitempty"`
}

type DeckStats struct {
	TotalDecks          int `json:"totalDecks"`
	TotalCards          int `json:"totalCards"`
	AverageCardsPerDeck int `json:"averageCardsPerDeck"`
	LargestDeckSize     int `json:"largestDeckSize"`
}

// Package catalog is the read-only card reference used for deck legality.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/KyleGowen/excelsior-sub010/internal/models"

	"gopkg.in/yaml.v3"
)

// Lookup is the narrow view of the catalog the rest of the system needs.
type Lookup interface {
	Get(cardType, cardID string) (models.CardAttributes, bool)
}

type key struct {
	cardType string
	cardID   string
}

// Catalog is an in-memory card table. Safe for concurrent reads.
type Catalog struct {
	mu    sync.RWMutex
	cards map[key]models.CardAttributes
}

func New(cards ...models.CardAttributes) *Catalog {
	c := &Catalog{cards: make(map[key]models.CardAttributes, len(cards))}
	for _, card := range cards {
		c.Add(card)
	}
	return c
}

type file struct {
	Cards []models.CardAttributes `yaml:"cards"`
}

// Load reads a YAML dataset of the form `cards: [{id, type, name, ...}]`.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := New()
	for i, card := range f.Cards {
		if card.CardID == "" || card.CardType == "" {
			return nil, fmt.Errorf("catalog entry %d: id and type are required", i)
		}
		c.Add(card)
	}
	return c, nil
}

func (c *Catalog) Add(card models.CardAttributes) {
	card.CardType = strings.ToLower(card.CardType)
	c.mu.Lock()
	c.cards[key{card.CardType, card.CardID}] = card
	c.mu.Unlock()
}

func (c *Catalog) Get(cardType, cardID string) (models.CardAttributes, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	card, ok := c.cards[key{strings.ToLower(cardType), cardID}]
	return card, ok
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cards)
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/KyleGowen/excelsior-sub010/internal/models"

	"github.com/google/uuid"
)

// DeckRepository is the durable medium behind the in-memory deck store.
// Each deck is written as a whole: its row plus the full card list.
type DeckRepository struct {
	db *DB
}

func NewDeckRepository(db *DB) *DeckRepository {
	return &DeckRepository{db: db}
}

func (r *DeckRepository) LoadDecks(ctx context.Context) ([]models.Deck, error) {
	query := `
		SELECT id, user_id, name, description, card_count, is_limited, is_valid,
		       reserve_character, ui_preferences, created_at, updated_at
		FROM decks
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query decks: %w", err)
	}
	defer rows.Close()

	var decks []models.Deck
	index := make(map[string]int)
	for rows.Next() {
		var deck models.Deck
		var reserve, prefs sql.NullString
		err := rows.Scan(
			&deck.ID,
			&deck.OwnerID,
			&deck.Name,
			&deck.Description,
			&deck.CardCount,
			&deck.IsLimited,
			&deck.IsValid,
			&reserve,
			&prefs,
			&deck.CreatedAt,
			&deck.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deck: %w", err)
		}
		deck.ReserveCharacterID = reserve.String
		if prefs.Valid && prefs.String != "" {
			deck.UIPreferences = json.RawMessage(prefs.String)
		}
		index[deck.ID] = len(decks)
		decks = append(decks, deck)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decks: %w", err)
	}

	cardRows, err := r.db.QueryContext(ctx, `
		SELECT id, deck_id, card_type, card_id, quantity, selected_alternate_image
		FROM deck_cards
		ORDER BY deck_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deck cards: %w", err)
	}
	defer cardRows.Close()

	for cardRows.Next() {
		var card models.DeckCard
		var deckID string
		var altImage sql.NullString
		if err := cardRows.Scan(&card.ID, &deckID, &card.Type, &card.CardID, &card.Quantity, &altImage); err != nil {
			return nil, fmt.Errorf("failed to scan deck card: %w", err)
		}
		card.SelectedAlternateImage = altImage.String

		i, ok := index[deckID]
		if !ok {
			// Orphaned row from a deck deleted without cascade.
			continue
		}
		decks[i].Cards = append(decks[i].Cards, card)
	}
	if err = cardRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deck cards: %w", err)
	}

	return decks, nil
}

func (r *DeckRepository) SaveDeck(ctx context.Context, deck models.Deck) error {
	return r.SaveDecks(ctx, []models.Deck{deck})
}

// SaveDecks writes every given deck in a single transaction.
func (r *DeckRepository) SaveDecks(ctx context.Context, decks []models.Deck) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range decks {
		if err := r.saveDeckTx(ctx, tx, &decks[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decks: %w", err)
	}
	return nil
}

func (r *DeckRepository) saveDeckTx(ctx context.Context, tx *sql.Tx, deck *models.Deck) error {
	upsert := `
		INSERT INTO decks (id, user_id, name, description, card_count, is_limited, is_valid,
		                   reserve_character, ui_preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			card_count = excluded.card_count,
			is_limited = excluded.is_limited,
			is_valid = excluded.is_valid,
			reserve_character = excluded.reserve_character,
			ui_preferences = excluded.ui_preferences,
			updated_at = excluded.updated_at
	`

	_, err := tx.ExecContext(ctx, r.db.Rebind(upsert),
		deck.ID,
		deck.OwnerID,
		deck.Name,
		deck.Description,
		deck.CardCount,
		deck.IsLimited,
		deck.IsValid,
		nullString(deck.ReserveCharacterID),
		nullString(string(deck.UIPreferences)),
		deck.CreatedAt,
		deck.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deck %s: %w", deck.ID, err)
	}

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM deck_cards WHERE deck_id = ?`), deck.ID); err != nil {
		return fmt.Errorf("failed to clear deck cards: %w", err)
	}

	insert := r.db.Rebind(`
		INSERT INTO deck_cards (id, deck_id, card_type, card_id, quantity, selected_alternate_image, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	for position, card := range deck.Cards {
		cardID := card.ID
		if cardID == "" {
			cardID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, insert,
			cardID,
			deck.ID,
			card.Type,
			card.CardID,
			card.Quantity,
			nullString(card.SelectedAlternateImage),
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to save deck card %s/%s: %w", card.Type, card.CardID, err)
		}
	}

	return nil
}

// DeleteDeck removes a deck and its cards. Deleting an unknown deck is not
// an error.
func (r *DeckRepository) DeleteDeck(ctx context.Context, deckID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM deck_cards WHERE deck_id = ?`), deckID); err != nil {
		return fmt.Errorf("failed to delete deck cards: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM decks WHERE id = ?`), deckID); err != nil {
		return fmt.Errorf("failed to delete deck: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deck deletion: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

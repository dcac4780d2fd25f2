package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var ErrNotFound = errors.New("not found")

// DB wraps the pool with the driver name so queries written with "?"
// placeholders can be rebound for PostgreSQL.
type DB struct {
	*sql.DB
	Driver string
}

func Initialize(driver, dsn string) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)

	switch driver {
	case DriverSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		sqlDB, err = sql.Open(DriverSQLite, dsn+sep+"_foreign_keys=on")
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("DATABASE_URL is required for postgres")
		}
		sqlDB, err = sql.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB, Driver: driver}, nil
}

// Rebind rewrites "?" placeholders to "$n" when talking to PostgreSQL.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func Migrate(db *DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'USER',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS decks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			card_count INTEGER NOT NULL DEFAULT 0,
			is_limited BOOLEAN NOT NULL DEFAULT FALSE,
			is_valid BOOLEAN NOT NULL DEFAULT FALSE,
			reserve_character TEXT,
			ui_preferences TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deck_cards (
			id TEXT PRIMARY KEY,
			deck_id TEXT NOT NULL,
			card_type TEXT NOT NULL,
			card_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			selected_alternate_image TEXT,
			FOREIGN KEY (deck_id) REFERENCES decks(id) ON DELETE CASCADE,
			UNIQUE(deck_id, card_type, card_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decks_user_id ON decks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deck_cards_deck_id ON deck_cards(deck_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	// Card order inside a deck was added after the first release.
	if err := ensureColumn(db, "deck_cards", "position", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("failed to add position column to deck_cards: %w", err)
	}

	return nil
}

// ensureColumn adds a column when a probe select on it fails. The probe
// works the same on sqlite and postgres, unlike PRAGMA table_info.
func ensureColumn(db *DB, table, column, definition string) error {
	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s LIMIT 0", column, table))
	if err == nil {
		rows.Close()
		return nil
	}

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

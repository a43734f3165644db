package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

const playersSchema = `
CREATE TABLE IF NOT EXISTS players (
	guild_id   TEXT PRIMARY KEY,
	snapshot   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps one row per tenant in a players table. Save replaces the
// whole table inside a transaction so a partial write never survives.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the snapshot database at
// the given path. ":memory:" is accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps SQLite writes serialized and makes
	// ":memory:" behave as one database instead of one per connection.
	shared.ConfigureDatabase(db, 1, 1)

	if _, err := db.Exec(playersSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create players table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(snapshots map[string]models.PlayerSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM players"); err != nil {
		return fmt.Errorf("failed to clear players table: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO players (guild_id, snapshot, updated_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for guildID, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot for %s: %w", guildID, err)
		}
		if _, err := stmt.Exec(guildID, string(data), snapshot.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert snapshot for %s: %w", guildID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Load() (map[string]models.PlayerSnapshot, error) {
	rows, err := s.db.Query("SELECT guild_id, snapshot FROM players")
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	snapshots := map[string]models.PlayerSnapshot{}
	for rows.Next() {
		var guildID, data string
		if err := rows.Scan(&guildID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan player row: %w", err)
		}

		var snapshot models.PlayerSnapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot for %s: %w", guildID, err)
		}
		snapshots[guildID] = snapshot
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate player rows: %w", err)
	}

	return snapshots, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package archive persists finished sessions to SQLite so their outcomes
// survive the in-memory session registry.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/systemiq/banknet/internal/database"
	"github.com/systemiq/banknet/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	state           TEXT NOT NULL,
	current_step    INTEGER NOT NULL,
	total_steps     INTEGER NOT NULL,
	total_defaults  INTEGER NOT NULL,
	surviving_banks INTEGER NOT NULL,
	event_count     INTEGER NOT NULL,
	archived_at     TEXT NOT NULL,
	snapshot        BLOB NOT NULL
);
`

// Store is the session archive. Safe for concurrent use; database/sql
// serialises access.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// Open creates or opens the archive database at the given path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := database.New(database.Config{Path: path, Name: "archive"})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.Conn().ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "archive").Logger(),
	}, nil
}

// Save writes a terminal session record, replacing any previous archive of
// the same session.
func (s *Store) Save(rec session.Record) error {
	blob, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	_, err = s.db.Conn().Exec(`
		INSERT OR REPLACE INTO sessions
			(session_id, state, current_step, total_steps, total_defaults,
			 surviving_banks, event_count, archived_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.State), rec.CurrentStep, rec.TotalSteps,
		rec.TotalDefaults, rec.SurvivingBanks, rec.EventCount,
		time.Now().UTC().Format(time.RFC3339), blob,
	)
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", rec.SessionID, err)
	}
	s.log.Debug().Str("session_id", rec.SessionID).Str("state", string(rec.State)).Msg("session archived")
	return nil
}

// Summary is one archived session's header row.
type Summary struct {
	SessionID      string `json:"session_id"`
	State          string `json:"state"`
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	TotalDefaults  int    `json:"total_defaults"`
	SurvivingBanks int    `json:"surviving_banks"`
	EventCount     int    `json:"event_count"`
	ArchivedAt     string `json:"archived_at"`
}

// List returns archived session summaries, most recent first.
func (s *Store) List() ([]Summary, error) {
	rows, err := s.db.Conn().Query(`
		SELECT session_id, state, current_step, total_steps, total_defaults,
		       surviving_banks, event_count, archived_at
		FROM sessions
		ORDER BY archived_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.SessionID, &sm.State, &sm.CurrentStep, &sm.TotalSteps,
			&sm.TotalDefaults, &sm.SurvivingBanks, &sm.EventCount, &sm.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Load returns the full record of one archived session.
func (s *Store) Load(sessionID string) (*session.Record, error) {
	var blob []byte
	err := s.db.Conn().QueryRow(`SELECT snapshot FROM sessions WHERE session_id = ?`, sessionID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not archived", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived session %s: %w", sessionID, err)
	}

	var rec session.Record
	if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return &rec, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

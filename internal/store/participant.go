package store

import (
	"database/sql"
	"time"
)

// UpsertParticipant inserts a participant or refreshes its display name.
func (db *DB) UpsertParticipant(p *Participant) error {
	_, err := db.Exec(`
		INSERT INTO participants (id, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE participants.display_name END`,
		p.ID, p.DisplayName, time.Now().UnixMilli())
	return err
}

// GetParticipant returns a participant by id, or nil when unknown.
func (db *DB) GetParticipant(id string) (*Participant, error) {
	var p Participant
	err := db.QueryRow(`SELECT id, display_name FROM participants WHERE id = ?`, id).
		Scan(&p.ID, &p.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

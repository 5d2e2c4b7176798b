package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
)

// InsertMessage stores a message, bumps its conversation's summary and
// sets m.Seq.
func (db *DB) InsertMessage(m *Message, preview string) error {
	tags, err := json.Marshal(nonNil(m.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	return db.inTx("message", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, sender_id, content, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.SenderID, m.Content, string(tags), m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE conversations SET
				last_message_at = MAX(last_message_at, ?),
				last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END
			WHERE id = ?`,
			m.CreatedAt, m.CreatedAt, preview, m.ConversationID); err != nil {
			return fmt.Errorf("update conversation summary: %w", err)
		}
		// Senders have read everything up to their own message.
		if _, err := tx.Exec(`
			UPDATE members SET last_read_at = MAX(last_read_at, ?)
			WHERE conversation_id = ? AND participant_id = ?`,
			m.CreatedAt, m.ConversationID, m.SenderID); err != nil {
			return fmt.Errorf("update sender read marker: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		m.Seq = seq
		return nil
	})
}

// ListMessages returns up to limit messages older than beforeSeq (all when
// beforeSeq <= 0), ordered oldest first.
func (db *DB) ListMessages(conversationID string, beforeSeq int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT seq, id, conversation_id, sender_id, content, tags, created_at
		FROM messages
		WHERE conversation_id = ?`
	args := []any{conversationID}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var tags string
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Content, &tags, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", m.ID, err)
		}
		if len(m.Tags) == 0 {
			m.Tags = nil
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `
	c.id, o.participant_id, COALESCE(p.display_name, ''),
	c.last_message_at, c.last_message_preview,
	(SELECT COUNT(*) FROM messages msg
		WHERE msg.conversation_id = c.id
		AND msg.sender_id != m.participant_id
		AND msg.created_at > m.last_read_at) AS unread_count,
	m.muted, m.pinned, m.nickname`

const conversationJoins = `
	FROM members m
	JOIN conversations c ON c.id = m.conversation_id
	JOIN members o ON o.conversation_id = c.id AND o.participant_id != m.participant_id
	LEFT JOIN participants p ON p.id = o.participant_id`

// CreateConversation creates a two-member conversation between a and b, or
// returns the id of the one that already exists.
func (db *DB) CreateConversation(id, a, b string) (string, bool, error) {
	resolved, created := id, false
	err := db.inTx("conversation", func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			SELECT m.conversation_id FROM members m
			JOIN members o ON o.conversation_id = m.conversation_id
			WHERE m.participant_id = ? AND o.participant_id = ?
			LIMIT 1`, a, b).Scan(&resolved)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find conversation: %w", err)
		}

		resolved = id
		if _, err := tx.Exec(`INSERT INTO conversations (id, created_at) VALUES (?, ?)`, id, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, p := range []string{a, b} {
			if _, err := tx.Exec(`INSERT INTO members (conversation_id, participant_id) VALUES (?, ?)`, id, p); err != nil {
				return fmt.Errorf("insert member %q: %w", p, err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return resolved, created, nil
}

// ListConversations returns the conversations of participantID, most
// recently active first.
func (db *DB) ListConversations(participantID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+conversationColumns+conversationJoins+`
		WHERE m.participant_id = ?
		ORDER BY c.last_message_at DESC, c.id
		LIMIT ? OFFSET ?`, participantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns one conversation as seen by participantID, or
// nil when it does not exist or participantID is not a member.
func (db *DB) GetConversation(participantID, conversationID string) (*Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+conversationJoins+`
		WHERE m.participant_id = ? AND c.id = ?`, participantID, conversationID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*Conversation, error) {
	var c Conversation
	if err := s.Scan(&c.ID, &c.Other.ID, &c.Other.DisplayName,
		&c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount,
		&c.Muted, &c.Pinned, &c.Nickname); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetMember returns participantID's membership, or nil when not a member.
func (db *DB) GetMember(conversationID, participantID string) (*Member, error) {
	var m Member
	err := db.QueryRow(`
		SELECT conversation_id, participant_id, muted, pinned, nickname, last_read_at
		FROM members WHERE conversation_id = ? AND participant_id = ?`, conversationID, participantID).
		Scan(&m.ConversationID, &m.ParticipantID, &m.Muted, &m.Pinned, &m.Nickname, &m.LastReadAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Members lists the participant ids of a conversation.
func (db *DB) Members(conversationID string) ([]string, error) {
	rows, err := db.Query(`SELECT participant_id FROM members WHERE conversation_id = ? ORDER BY participant_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead moves participantID's read marker forward to at.
func (db *DB) MarkRead(conversationID, participantID string, at int64) error {
	_, err := db.Exec(`
		UPDATE members SET last_read_at = MAX(last_read_at, ?)
		WHERE conversation_id = ? AND participant_id = ?`, at, conversationID, participantID)
	return err
}

// DeleteConversation removes a conversation with its members and messages.
func (db *DB) DeleteConversation(conversationID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

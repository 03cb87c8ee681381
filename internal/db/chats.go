package db

import (
	"fmt"
	"time"
)

// CreateConversation creates a new conversation
func (db *DB) CreateConversation(conv *Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	result, err := db.conn.Exec(
		"INSERT INTO conversations (title, created_at, updated_at) VALUES (?, ?, ?)",
		conv.Title, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	conv.ID = id
	return nil
}

// GetConversation retrieves a conversation by ID
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	conv := &Conversation{}
	err := db.conn.QueryRow("SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?", id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return conv, nil
}

// UpdateConversation updates title and updated_at
func (db *DB) UpdateConversation(conv *Conversation) error {
	result, err := db.conn.Exec("UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		conv.Title, conv.UpdatedAt.UTC(), conv.ID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ListConversations retrieves conversations, most recently updated first
func (db *DB) ListConversations() ([]*Conversation, error) {
	rows, err := db.conn.Query("SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation deletes a conversation and its messages
func (db *DB) DeleteConversation(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	result, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateMessage appends a message to a conversation
func (db *DB) CreateMessage(msg *Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	result, err := db.conn.Exec(
		"INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
		msg.ConversationID, msg.Role, msg.Content, msg.Timestamp.UTC())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// ListMessages retrieves the messages of a conversation in chronological order
func (db *DB) ListMessages(conversationID int64) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, conversation_id, role, content, timestamp FROM messages
		WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

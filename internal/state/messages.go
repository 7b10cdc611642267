package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/convoy/internal/protocol"
)

// MessageStore persists high-priority bus messages so the work and reply
// channels survive an orchestrator restart. It implements bus.Persister.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a message store over the given database.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// SaveMessage persists a message on the given channel.
func (s *MessageStore) SaveMessage(_ context.Context, channel string, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO messages (message_id, channel, envelope, persisted_at)
		VALUES (?, ?, ?, ?)
	`, env.MessageID, channel, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("persist message %s: %w", env.MessageID, err)
	}
	return nil
}

// DeleteMessage removes a persisted message after ack or dead-letter.
func (s *MessageStore) DeleteMessage(_ context.Context, messageID string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// LoadMessages returns all persisted messages for a channel, oldest first.
func (s *MessageStore) LoadMessages(_ context.Context, channel string) ([]*protocol.Envelope, error) {
	rows, err := s.db.Query(`
		SELECT envelope FROM messages WHERE channel = ? ORDER BY persisted_at
	`, channel)
	if err != nil {
		return nil, fmt.Errorf("load %s messages: %w", channel, err)
	}
	defer rows.Close()

	var envs []*protocol.Envelope
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return nil, fmt.Errorf("decode persisted envelope: %w", err)
		}
		envs = append(envs, &env)
	}
	return envs, rows.Err()
}

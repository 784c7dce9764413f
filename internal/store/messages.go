package store

import (
	"context"
	"slices"

	"github.com/mossy-p/call-signaling/internal/models"
)

// AppendMessage archives a chat message. Re-archiving the same id is a
// no-op.
func (p *Postgres) AppendMessage(ctx context.Context, msg models.ChatMessage) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO room_messages (id, room_id, sender_identity, sender_name, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.RoomID, msg.SenderIdentity, msg.SenderName, msg.Text, msg.Timestamp)
	return err
}

// RecentMessages returns up to limit of the newest messages in roomID,
// oldest first.
func (p *Postgres) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, room_id, sender_identity, sender_name, body, created_at
		 FROM room_messages WHERE room_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderIdentity, &m.SenderName, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

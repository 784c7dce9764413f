package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mossy-p/call-signaling/internal/models"
)

// OpenChat returns the direct chat between userID and targetID, creating it
// when none exists. created reports whether a new chat was made.
func (p *Postgres) OpenChat(ctx context.Context, userID, targetID string) (chatID string, created bool, err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	chatID, created, err = openChat(ctx, tx, userID, targetID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return "", false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return chatID, created, nil
}

func openChat(ctx context.Context, tx pgx.Tx, userID, targetID string) (string, bool, error) {
	// Serialize find-or-create per pair so concurrent opens agree.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pairKey(userID, targetID)); err != nil {
		return "", false, err
	}

	var chatID string
	err := tx.QueryRow(ctx,
		`SELECT p1.chat_id FROM chat_participants p1
		 JOIN chat_participants p2 ON p2.chat_id = p1.chat_id AND p2.user_id = $2
		 WHERE p1.user_id = $1
		 LIMIT 1`,
		userID, targetID).Scan(&chatID)
	if err == nil {
		return chatID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	chatID = uuid.New().String()
	if _, err := tx.Exec(ctx, `INSERT INTO chats (id, created_at) VALUES ($1, $2)`, chatID, time.Now().UTC()); err != nil {
		return "", false, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
		chatID, userID, targetID); err != nil {
		if pgErrorCode(err) == foreignKeyViolation {
			return "", false, ErrUserNotFound
		}
		return "", false, err
	}
	return chatID, true, nil
}

// Chats lists userID's direct chats, most recently active first.
func (p *Postgres) Chats(ctx context.Context, userID string) ([]models.DirectChat, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.created_at, u.id, u.email, u.display_name, u.avatar_url, u.created_at, m.body, m.sent_at
		 FROM chat_participants me
		 JOIN chats c ON c.id = me.chat_id
		 JOIN chat_participants other ON other.chat_id = c.id AND other.user_id <> me.user_id
		 JOIN users u ON u.id = other.user_id
		 LEFT JOIN LATERAL (
		     SELECT body, sent_at FROM direct_messages
		     WHERE chat_id = c.id
		     ORDER BY sent_at DESC, id DESC LIMIT 1
		 ) m ON true
		 WHERE me.user_id = $1
		 ORDER BY m.sent_at DESC NULLS LAST, c.created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []models.DirectChat{}
	for rows.Next() {
		var ch models.DirectChat
		if err := rows.Scan(&ch.ID, &ch.CreatedAt,
			&ch.Peer.ID, &ch.Peer.Email, &ch.Peer.DisplayName, &ch.Peer.AvatarURL, &ch.Peer.CreatedAt,
			&ch.LastText, &ch.LastTime); err != nil {
			return nil, err
		}
		chats = append(chats, ch)
	}
	return chats, rows.Err()
}

// ChatMessages returns up to limit of the newest messages in chatID, oldest
// first. Only participants may read.
func (p *Postgres) ChatMessages(ctx context.Context, chatID, userID string, limit int) ([]models.DirectMessage, error) {
	if err := p.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, body, sent_at
		 FROM direct_messages WHERE chat_id = $1
		 ORDER BY sent_at DESC, id DESC LIMIT $2`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.DirectMessage{}
	for rows.Next() {
		var m models.DirectMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		m.SentAt = m.SentAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// AppendChatMessage stores text from senderID in chatID. Only participants
// may post.
func (p *Postgres) AppendChatMessage(ctx context.Context, chatID, senderID, text string) (*models.DirectMessage, error) {
	if err := p.requireParticipant(ctx, chatID, senderID); err != nil {
		return nil, err
	}

	m := &models.DirectMessage{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Text:     text,
		SentAt:   time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO direct_messages (id, chat_id, sender_id, body, sent_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.SentAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Postgres) requireParticipant(ctx context.Context, chatID, userID string) error {
	var ok bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID).Scan(&ok)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// pairKey is the same for (a, b) and (b, a).
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

package handlers

import (
	"context"

	"github.com/mossy-p/call-signaling/internal/models"
)

// RoomDirectory is the shareable room registry backed by Redis.
type RoomDirectory interface {
	Create(ctx context.Context, creatorID string, maxMembers int) (*models.RoomMetadata, error)
	Get(ctx context.Context, identifier string) (*models.RoomMetadata, error)
	Delete(ctx context.Context, identifier, userID string) error
	ResolveJoin(ctx context.Context, identifier, connID string) (string, error)
	AddMember(ctx context.Context, roomID, connID string) error
	RemoveMember(ctx context.Context, roomID, connID string) error
}

// MessageHistory reads archived room chat.
type MessageHistory interface {
	RecentMessages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error)
}

// Accounts is the user and contact store.
type Accounts interface {
	CreateUser(ctx context.Context, email, displayName string, passwordHash []byte) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, []byte, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error)
	AddContact(ctx context.Context, userID, contactID string) error
	Contacts(ctx context.Context, userID string) ([]models.User, error)
}

// DirectChats holds two-person conversations.
type DirectChats interface {
	OpenChat(ctx context.Context, userID, targetID string) (chatID string, created bool, err error)
	Chats(ctx context.Context, userID string) ([]models.DirectChat, error)
	ChatMessages(ctx context.Context, chatID, userID string, limit int) ([]models.DirectMessage, error)
	AppendChatMessage(ctx context.Context, chatID, senderID, text string) (*models.DirectMessage, error)
}

// Store is the Postgres-backed persistence used by the account, chat and
// history routes.
type Store interface {
	Accounts
	DirectChats
	MessageHistory
}

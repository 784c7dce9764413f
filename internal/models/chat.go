package models

import "time"

// DirectChat is a two-person conversation as listed for one participant.
// LastText and LastTime are nil until the first message is sent.
type DirectChat struct {
	ID        string     `json:"chatId"`
	Peer      User       `json:"peer"`
	LastText  *string    `json:"lastText"`
	LastTime  *time.Time `json:"lastTime"`
	CreatedAt time.Time  `json:"createdAt"`
}

type DirectMessage struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chatId"`
	SenderID string    `json:"senderId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

type OpenChatRequest struct {
	TargetUserID string `json:"targetUserId" binding:"required"`
}

type SendDirectMessageRequest struct {
	Text string `json:"text" binding:"required,max=4000"`
}

package models

import "time"

// RoomMetadata stores directory information about a room
type RoomMetadata struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`      // Short, shareable room code (e.g., "ABCD23")
	CreatorID   string    `json:"creatorId"` // User ID from JWT who created the room
	CreatedAt   time.Time `json:"createdAt"`
	MaxMembers  int       `json:"maxMembers"`
	MemberCount int       `json:"memberCount"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	MaxMembers int `json:"maxMembers" binding:"omitempty,min=2,max=16"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

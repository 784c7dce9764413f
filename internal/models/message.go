package models

import (
	"encoding/json"
	"time"
)

// SignalType represents the type of a signaling message
type SignalType string

const (
	// Room and presence
	SignalTypeJoin             SignalType = "join"
	SignalTypeLeave            SignalType = "leave"
	SignalTypeRoomSnapshot     SignalType = "room-snapshot"
	SignalTypeMemberJoined     SignalType = "member-joined"
	SignalTypeMemberLeft       SignalType = "member-left"
	SignalTypePresenceSnapshot SignalType = "presence-snapshot"
	SignalTypePresenceDelta    SignalType = "presence-delta"
	SignalTypeChatSend         SignalType = "chat:send"
	SignalTypeChatMessage      SignalType = "chat:message"

	// Calls
	SignalTypeCallInitiate SignalType = "call:initiate"
	SignalTypeCallRinging  SignalType = "call:ringing"
	SignalTypeCallIncoming SignalType = "call:incoming"
	SignalTypeCallAccept   SignalType = "call:accept"
	SignalTypeCallAnswered SignalType = "call:answered"
	SignalTypeCallReject   SignalType = "call:reject"
	SignalTypeCallRejected SignalType = "call:rejected"
	SignalTypeCallICE      SignalType = "call:ice"
	SignalTypeCallEnd      SignalType = "call:end"
	SignalTypeCallEnded    SignalType = "call:ended"
	SignalTypeCallError    SignalType = "call:error"
)

// SignalMessage is the envelope of every frame on the signaling socket.
// Payload is decoded per Type; offer/answer/candidate blobs inside it are
// carried as raw JSON and never interpreted.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CallType is the media kind requested by the caller.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallPhase is the externally visible phase of a live call.
type CallPhase string

const (
	CallPhaseRinging CallPhase = "ringing"
	CallPhaseActive  CallPhase = "active"
)

// Reasons carried by call:ended.
const (
	EndReasonUserEnded        = "user-ended"
	EndReasonUserDisconnected = "user-disconnected"
	EndReasonUserLeft         = "user-left"
	EndReasonTimeout          = "timeout"
)

// Client → server payloads

type JoinPayload struct {
	RoomID      string `json:"roomId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type ChatSendPayload struct {
	Text string `json:"text"`
}

type CallInitiatePayload struct {
	TargetIdentity     string          `json:"targetIdentity,omitempty"`
	TargetConnectionID string          `json:"targetConnectionId,omitempty"`
	RoomID             string          `json:"roomId,omitempty"`
	Offer              json.RawMessage `json:"offer"`
	CallType           CallType        `json:"callType"`
}

type CallAcceptPayload struct {
	Answer json.RawMessage `json:"answer"`
}

type CallICEPayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

// Server → client payloads

type MemberInfo struct {
	ConnectionID string `json:"connectionId"`
	Identity     string `json:"identity"`
	DisplayName  string `json:"displayName"`
	InCall       bool   `json:"inCall"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	SenderIdentity string    `json:"senderIdentity"`
	SenderName     string    `json:"senderName"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

type CallInfo struct {
	CallID         string    `json:"callId"`
	CallerIdentity string    `json:"callerIdentity"`
	CalleeIdentity string    `json:"calleeIdentity"`
	CallType       CallType  `json:"callType"`
	Phase          CallPhase `json:"phase"`
}

type RoomSnapshotPayload struct {
	RoomID         string        `json:"roomId"`
	Members        []MemberInfo  `json:"members"`
	RecentMessages []ChatMessage `json:"recentMessages"`
	ActiveCall     *CallInfo     `json:"activeCall"`
}

type PresenceSnapshotPayload struct {
	Online []string `json:"online"`
}

type PresenceDeltaPayload struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}

type CallRingingPayload struct {
	CallID   string   `json:"callId"`
	CallType CallType `json:"callType"`
}

type CallIncomingPayload struct {
	CallID             string          `json:"callId"`
	CallerIdentity     string          `json:"callerIdentity"`
	CallerConnectionID string          `json:"callerConnectionId"`
	Offer              json.RawMessage `json:"offer"`
	CallType           CallType        `json:"callType"`
	RoomID             string          `json:"roomId,omitempty"`
}

type CallAnsweredPayload struct {
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer"`
}

type CallRejectedPayload struct {
	CallID string `json:"callId"`
}

type CallICERelayPayload struct {
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndedPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

type CallErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

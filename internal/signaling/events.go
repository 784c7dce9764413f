package signaling

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/mossy-p/call-signaling/internal/models"
)

// Event is an inbound signaling event. The concrete types below are the
// only implementations; the hub switches over them.
type Event interface {
	isEvent()
}

type JoinRoom struct {
	RoomID      string
	DisplayName string
	// History seeds the chat log when the join creates the room.
	History []models.ChatMessage
}

type LeaveRoom struct{}

type SendChat struct {
	Text string
}

type InitiateCall struct {
	TargetIdentity     string
	TargetConnectionID string
	RoomID             string
	Offer              json.RawMessage
	CallType           models.CallType
}

type AcceptCall struct {
	Answer json.RawMessage
}

type RejectCall struct{}

type RelayICE struct {
	Candidate json.RawMessage
}

type EndCall struct{}

func (JoinRoom) isEvent()     {}
func (LeaveRoom) isEvent()    {}
func (SendChat) isEvent()     {}
func (InitiateCall) isEvent() {}
func (AcceptCall) isEvent()   {}
func (RejectCall) isEvent()   {}
func (RelayICE) isEvent()     {}
func (EndCall) isEvent()      {}

// Events produced by the hub itself.

type connectEvent struct {
	conn        Conn
	identity    string
	displayName string
	reply       chan error
}

type disconnectEvent struct{}

type ringExpired struct {
	callID string
}

type onlineQuery struct {
	reply chan []string
}

func (connectEvent) isEvent()    {}
func (disconnectEvent) isEvent() {}
func (ringExpired) isEvent()     {}
func (onlineQuery) isEvent()     {}

// DecodeEvent parses one client frame into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var msg models.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, wrap(ErrBadRequest, "malformed message: %v", err)
	}

	switch msg.Type {
	case models.SignalTypeJoin:
		var p models.JoinPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			p.RoomID = msg.RoomID
		}
		return JoinRoom{RoomID: strings.TrimSpace(p.RoomID), DisplayName: strings.TrimSpace(p.DisplayName)}, nil

	case models.SignalTypeLeave:
		return LeaveRoom{}, nil

	case models.SignalTypeChatSend:
		var p models.ChatSendPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return SendChat{Text: p.Text}, nil

	case models.SignalTypeCallInitiate:
		var p models.CallInitiatePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" {
			p.RoomID = msg.RoomID
		}
		return InitiateCall{
			TargetIdentity:     p.TargetIdentity,
			TargetConnectionID: p.TargetConnectionID,
			RoomID:             p.RoomID,
			Offer:              p.Offer,
			CallType:           p.CallType,
		}, nil

	case models.SignalTypeCallAccept:
		var p models.CallAcceptPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return AcceptCall{Answer: p.Answer}, nil

	case models.SignalTypeCallReject:
		return RejectCall{}, nil

	case models.SignalTypeCallICE:
		var p models.CallICEPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return RelayICE{Candidate: p.Candidate}, nil

	case models.SignalTypeCallEnd:
		return EndCall{}, nil
	}

	return nil, wrap(ErrBadRequest, "unknown message type %q", msg.Type)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return wrap(ErrBadRequest, "malformed payload: %v", err)
	}
	return nil
}

// blank reports whether an opaque payload carries nothing.
func blank(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

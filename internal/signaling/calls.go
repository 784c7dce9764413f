package signaling

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/call-signaling/internal/models"
)

// maxPendingCandidates bounds the candidates held for a ringing call.
const maxPendingCandidates = 64

// Party is a call participant pinned at initiate/accept time.
type Party struct {
	ConnID   string
	Identity string
}

// Call is one live call attempt. A call that is removed from Calls is idle.
type Call struct {
	ID         string
	Caller     Party
	Callee     Party
	RoomID     string
	Type       models.CallType
	Phase      models.CallPhase
	CreatedAt  time.Time
	AnsweredAt time.Time

	stopTimer func() bool
	pending   []json.RawMessage
}

// Peer returns the other participant of connID.
func (c *Call) Peer(connID string) (Party, bool) {
	switch connID {
	case c.Caller.ConnID:
		return c.Callee, true
	case c.Callee.ConnID:
		return c.Caller, true
	}
	return Party{}, false
}

func (c *Call) Info() *models.CallInfo {
	return &models.CallInfo{
		CallID:         c.ID,
		CallerIdentity: c.Caller.Identity,
		CalleeIdentity: c.Callee.Identity,
		CallType:       c.Type,
		Phase:          c.Phase,
	}
}

// hold queues a candidate until the call is answered; it reports false once
// the queue is full.
func (c *Call) hold(candidate json.RawMessage) bool {
	if len(c.pending) >= maxPendingCandidates {
		return false
	}
	c.pending = append(c.pending, candidate)
	return true
}

func (c *Call) takePending() []json.RawMessage {
	out := c.pending
	c.pending = nil
	return out
}

// Calls is the call state machine's store. It enforces at most one live call
// per connection, per identity pair and per room. Owned by the hub goroutine.
type Calls struct {
	calls  map[string]*Call
	byConn map[string]string
	byPair map[string]string
	byRoom map[string]string
}

func NewCalls() *Calls {
	return &Calls{
		calls:  make(map[string]*Call),
		byConn: make(map[string]string),
		byPair: make(map[string]string),
		byRoom: make(map[string]string),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// Create starts a ringing call from caller to callee.
func (cs *Calls) Create(caller, callee Party, roomID string, callType models.CallType, now time.Time) (*Call, error) {
	if caller.ConnID == callee.ConnID || caller.Identity == callee.Identity {
		return nil, wrap(ErrInvalidState, "cannot call yourself")
	}
	if _, busy := cs.byConn[caller.ConnID]; busy {
		return nil, wrap(ErrCallAlreadyInProgress, "caller is already in a call")
	}
	if _, busy := cs.byConn[callee.ConnID]; busy {
		return nil, wrap(ErrCallAlreadyInProgress, "%s is already in a call", callee.Identity)
	}
	if _, busy := cs.byPair[pairKey(caller.Identity, callee.Identity)]; busy {
		return nil, wrap(ErrCallAlreadyInProgress, "a call with %s already exists", callee.Identity)
	}
	if roomID != "" {
		if _, busy := cs.byRoom[roomID]; busy {
			return nil, wrap(ErrCallAlreadyInProgress, "room %s already has a call", roomID)
		}
	}

	call := &Call{
		ID:        uuid.NewString(),
		Caller:    caller,
		Callee:    callee,
		RoomID:    roomID,
		Type:      callType,
		Phase:     models.CallPhaseRinging,
		CreatedAt: now,
	}
	cs.calls[call.ID] = call
	cs.byConn[caller.ConnID] = call.ID
	cs.byConn[callee.ConnID] = call.ID
	cs.byPair[pairKey(caller.Identity, callee.Identity)] = call.ID
	if roomID != "" {
		cs.byRoom[roomID] = call.ID
	}
	return call, nil
}

// Accept moves the ringing call addressed to connID to active.
func (cs *Calls) Accept(connID string, now time.Time) (*Call, error) {
	call, ok := cs.ForConn(connID)
	if !ok {
		return nil, wrap(ErrInvalidState, "no call to accept")
	}
	if call.Callee.ConnID != connID {
		return nil, wrap(ErrInvalidState, "only the callee can accept")
	}
	if call.Phase != models.CallPhaseRinging {
		return nil, wrap(ErrInvalidState, "call already %s", call.Phase)
	}
	call.Phase = models.CallPhaseActive
	call.AnsweredAt = now
	if call.stopTimer != nil {
		call.stopTimer()
		call.stopTimer = nil
	}
	return call, nil
}

func (cs *Calls) Get(callID string) (*Call, bool) {
	c, ok := cs.calls[callID]
	return c, ok
}

func (cs *Calls) ForConn(connID string) (*Call, bool) {
	id, ok := cs.byConn[connID]
	if !ok {
		return nil, false
	}
	return cs.calls[id], true
}

func (cs *Calls) ForRoom(roomID string) (*Call, bool) {
	id, ok := cs.byRoom[roomID]
	if !ok {
		return nil, false
	}
	return cs.calls[id], true
}

// Remove drives a call to idle and releases every index that points at it.
func (cs *Calls) Remove(callID string) (*Call, bool) {
	call, ok := cs.calls[callID]
	if !ok {
		return nil, false
	}
	if call.stopTimer != nil {
		call.stopTimer()
		call.stopTimer = nil
	}
	delete(cs.calls, callID)
	delete(cs.byConn, call.Caller.ConnID)
	delete(cs.byConn, call.Callee.ConnID)
	delete(cs.byPair, pairKey(call.Caller.Identity, call.Callee.Identity))
	if call.RoomID != "" {
		delete(cs.byRoom, call.RoomID)
	}
	return call, true
}

func (cs *Calls) Len() int {
	return len(cs.calls)
}

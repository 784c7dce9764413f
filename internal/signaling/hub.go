package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/call-signaling/internal/models"
)

const maxChatLength = 4000

// Options configures a Hub.
type Options struct {
	RingTimeout           time.Duration
	HoldRingingCandidates bool
	HistoryLimit          int
	Archive               Archive
	Logger                *slog.Logger

	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) (stop func() bool)
}

type item struct {
	connID string
	ev     Event
}

// Hub owns the connection registry, rooms and calls. All state is mutated
// by the goroutine running Run, one event at a time.
type Hub struct {
	opts     Options
	logger   *slog.Logger
	registry *Registry
	rooms    *Rooms
	calls    *Calls
	archiver *archiver

	inbox chan item
	done  chan struct{}
}

func NewHub(opts Options) *Hub {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 45 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}

	logger := opts.Logger.With("component", "signaling_hub")
	h := &Hub{
		opts:     opts,
		logger:   logger,
		registry: NewRegistry(),
		rooms:    NewRooms(opts.HistoryLimit),
		calls:    NewCalls(),
		inbox:    make(chan item, 1024),
		done:     make(chan struct{}),
	}
	if opts.Archive != nil {
		h.archiver = newArchiver(opts.Archive, logger)
	}
	return h
}

// Run processes events until ctx is cancelled. Queued chat messages are
// flushed to the archive before Done is closed.
func (h *Hub) Run(ctx context.Context) {
	archived := make(chan struct{})
	if h.archiver != nil {
		go func() {
			defer close(archived)
			h.archiver.run(ctx)
		}()
	} else {
		close(archived)
	}
	defer func() {
		<-archived
		close(h.done)
	}()

	h.logger.Info("signaling hub started")
	for {
		select {
		case it := <-h.inbox:
			h.process(it)
		case <-ctx.Done():
			h.logger.Info("signaling hub stopped")
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Connect registers conn under identity. It returns once the hub has
// processed the registration.
func (h *Hub) Connect(ctx context.Context, conn Conn, identity, displayName string) error {
	reply := make(chan error, 1)
	ev := connectEvent{conn: conn, identity: identity, displayName: displayName, reply: reply}
	if err := h.submit(ctx, item{connID: conn.ID(), ev: ev}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect schedules cleanup for connID. Safe to call more than once.
func (h *Hub) Disconnect(connID string) {
	if err := h.submit(context.Background(), item{connID: connID, ev: disconnectEvent{}}); err != nil {
		h.logger.Debug("disconnect after hub shutdown", "connID", connID)
	}
}

// Dispatch queues a client event from connID.
func (h *Hub) Dispatch(ctx context.Context, connID string, ev Event) error {
	return h.submit(ctx, item{connID: connID, ev: ev})
}

// Online returns the identities that currently have a live connection.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.submit(ctx, item{ev: onlineQuery{reply: reply}}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) submit(ctx context.Context, it item) error {
	select {
	case h.inbox <- it:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) process(it item) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic while processing event",
				"connID", it.connID, "event", fmt.Sprintf("%T", it.ev), "panic", r)
			if ce, ok := it.ev.(connectEvent); ok {
				select {
				case ce.reply <- fmt.Errorf("connect failed: %v", r):
				default:
				}
			}
		}
	}()

	switch ev := it.ev.(type) {
	case connectEvent:
		ev.reply <- h.connect(ev)
		return
	case disconnectEvent:
		h.disconnect(it.connID)
		return
	case ringExpired:
		h.expire(ev.callID)
		return
	case onlineQuery:
		ev.reply <- h.registry.Identities()
		return
	}

	entry, ok := h.registry.Lookup(it.connID)
	if !ok {
		h.logger.Warn("dropping event from unregistered connection",
			"connID", it.connID, "event", fmt.Sprintf("%T", it.ev))
		return
	}

	var err error
	switch ev := it.ev.(type) {
	case JoinRoom:
		err = h.join(entry, ev)
	case LeaveRoom:
		err = h.leave(entry)
	case SendChat:
		err = h.chat(entry, ev)
	case InitiateCall:
		err = h.initiate(entry, ev)
	case AcceptCall:
		err = h.accept(entry, ev)
	case RejectCall:
		err = h.reject(entry)
	case RelayICE:
		err = h.relayICE(entry, ev)
	case EndCall:
		err = h.end(entry)
	default:
		err = wrap(ErrBadRequest, "unsupported event %T", ev)
	}
	if err != nil {
		h.replyError(entry, err)
	}
}

// Presence

func (h *Hub) connect(ev connectEvent) error {
	entry, first, err := h.registry.Register(ev.conn, ev.identity, ev.displayName)
	if err != nil {
		h.logger.Warn("rejecting connection", "connID", ev.conn.ID(), "identity", ev.identity, "error", err)
		return err
	}

	connID := entry.Conn.ID()
	h.emit(connID, models.SignalTypePresenceSnapshot, "", "", models.PresenceSnapshotPayload{
		Online: h.registry.Identities(),
	})
	if first {
		h.broadcastPresence(entry.Identity, true, connID)
	}
	h.logger.Info("connection registered", "connID", connID, "identity", entry.Identity, "connections", h.registry.Len())
	return nil
}

func (h *Hub) disconnect(connID string) {
	entry, ok := h.registry.Lookup(connID)
	if !ok {
		return
	}

	if call, ok := h.calls.ForConn(connID); ok {
		h.terminate(call, models.EndReasonUserDisconnected, connID)
	}
	if entry.RoomID != "" {
		h.removeFromRoom(entry, models.EndReasonUserDisconnected)
	}
	if _, last, _ := h.registry.Unregister(connID); last {
		h.broadcastPresence(entry.Identity, false, connID)
	}
	h.logger.Info("connection unregistered", "connID", connID, "identity", entry.Identity, "connections", h.registry.Len())
}

func (h *Hub) broadcastPresence(identity string, online bool, exclude string) {
	var targets []string
	for _, e := range h.registry.Entries() {
		if e.Conn.ID() != exclude {
			targets = append(targets, e.Conn.ID())
		}
	}
	h.broadcast(targets, models.SignalTypePresenceDelta, identity, "", models.PresenceDeltaPayload{
		Identity: identity,
		Online:   online,
	})
}

// Rooms

func (h *Hub) join(entry *Entry, ev JoinRoom) error {
	roomID := ev.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	if ev.DisplayName != "" {
		entry.DisplayName = ev.DisplayName
	}
	if entry.RoomID != "" && entry.RoomID != roomID {
		h.removeFromRoom(entry, models.EndReasonUserLeft)
	}

	rejoin := entry.RoomID == roomID
	member := Member{ConnID: entry.Conn.ID(), Identity: entry.Identity, DisplayName: entry.DisplayName}
	room, created := h.rooms.Join(roomID, member, ev.History)
	entry.RoomID = roomID
	if created {
		h.logger.Info("room created", "roomID", roomID, "seededMessages", len(ev.History))
	}

	// The snapshot goes out before any later room event can reach the joiner.
	h.emit(member.ConnID, models.SignalTypeRoomSnapshot, "", roomID, h.snapshot(room))
	if !rejoin {
		h.broadcast(roomTargets(room, member.ConnID), models.SignalTypeMemberJoined, entry.Identity, roomID, h.memberInfo(member))
	}
	h.logger.Debug("member joined room", "roomID", roomID, "connID", member.ConnID, "members", room.Len())
	return nil
}

func (h *Hub) leave(entry *Entry) error {
	if entry.RoomID == "" {
		return wrap(ErrInvalidState, "not in a room")
	}
	h.removeFromRoom(entry, models.EndReasonUserLeft)
	return nil
}

func (h *Hub) removeFromRoom(entry *Entry, reason string) {
	roomID := entry.RoomID
	connID := entry.Conn.ID()
	if call, ok := h.calls.ForConn(connID); ok && call.RoomID == roomID {
		h.terminate(call, reason, connID)
	}

	room, removed, deleted := h.rooms.Leave(roomID, connID)
	entry.RoomID = ""
	if !removed {
		return
	}
	if deleted {
		h.logger.Info("removed empty room", "roomID", roomID)
		return
	}
	h.broadcast(roomTargets(room, ""), models.SignalTypeMemberLeft, entry.Identity, roomID, models.MemberInfo{
		ConnectionID: connID,
		Identity:     entry.Identity,
		DisplayName:  entry.DisplayName,
	})
}

func (h *Hub) chat(entry *Entry, ev SendChat) error {
	if entry.RoomID == "" {
		return wrap(ErrInvalidState, "not in a room")
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return wrap(ErrBadRequest, "message text is empty")
	}
	if len(text) > maxChatLength {
		return wrap(ErrBadRequest, "message longer than %d bytes", maxChatLength)
	}
	room, ok := h.rooms.Get(entry.RoomID)
	if !ok {
		return wrap(ErrInvalidState, "room %s no longer exists", entry.RoomID)
	}

	msg := models.ChatMessage{
		ID:             uuid.NewString(),
		RoomID:         room.ID,
		SenderIdentity: entry.Identity,
		SenderName:     entry.DisplayName,
		Text:           text,
		Timestamp:      h.opts.Now().UTC(),
	}
	room.Append(msg)
	h.broadcast(roomTargets(room, ""), models.SignalTypeChatMessage, entry.Identity, room.ID, msg)
	if h.archiver != nil {
		h.archiver.enqueue(msg)
	}
	return nil
}

func (h *Hub) snapshot(room *Room) models.RoomSnapshotPayload {
	members := room.Members()
	infos := make([]models.MemberInfo, 0, len(members))
	for _, m := range members {
		infos = append(infos, h.memberInfo(m))
	}
	snap := models.RoomSnapshotPayload{
		RoomID:         room.ID,
		Members:        infos,
		RecentMessages: room.Recent(),
	}
	if call, ok := h.calls.ForRoom(room.ID); ok {
		snap.ActiveCall = call.Info()
	}
	return snap
}

func (h *Hub) memberInfo(m Member) models.MemberInfo {
	_, inCall := h.calls.ForConn(m.ConnID)
	return models.MemberInfo{
		ConnectionID: m.ConnID,
		Identity:     m.Identity,
		DisplayName:  m.DisplayName,
		InCall:       inCall,
	}
}

func roomTargets(room *Room, exclude string) []string {
	targets := make([]string, 0, room.Len())
	for _, m := range room.members {
		if m.ConnID != exclude {
			targets = append(targets, m.ConnID)
		}
	}
	return targets
}

// Calls

func (h *Hub) initiate(entry *Entry, ev InitiateCall) error {
	callType := ev.CallType
	if callType == "" {
		callType = models.CallTypeVideo
	}
	if !callType.Valid() {
		return wrap(ErrBadRequest, "unknown call type %q", ev.CallType)
	}
	if blank(ev.Offer) {
		return wrap(ErrBadRequest, "offer is required")
	}

	caller := Party{ConnID: entry.Conn.ID(), Identity: entry.Identity}
	if _, busy := h.calls.ForConn(caller.ConnID); busy {
		return wrap(ErrCallAlreadyInProgress, "caller is already in a call")
	}
	callee, err := h.resolveCallee(entry, ev)
	if err != nil {
		return err
	}

	call, err := h.calls.Create(caller, callee, ev.RoomID, callType, h.opts.Now())
	if err != nil {
		return err
	}

	incoming := models.CallIncomingPayload{
		CallID:             call.ID,
		CallerIdentity:     caller.Identity,
		CallerConnectionID: caller.ConnID,
		Offer:              ev.Offer,
		CallType:           callType,
		RoomID:             call.RoomID,
	}
	if !h.emit(callee.ConnID, models.SignalTypeCallIncoming, caller.Identity, call.RoomID, incoming) {
		h.calls.Remove(call.ID)
		return wrap(ErrRelayTargetUnresolved, "could not reach %s", callee.Identity)
	}

	callID := call.ID
	call.stopTimer = h.opts.AfterFunc(h.opts.RingTimeout, func() {
		_ = h.submit(context.Background(), item{ev: ringExpired{callID: callID}})
	})
	h.emit(caller.ConnID, models.SignalTypeCallRinging, callee.Identity, call.RoomID, models.CallRingingPayload{
		CallID:   call.ID,
		CallType: callType,
	})
	h.logger.Info("call ringing", "callID", call.ID, "caller", caller.Identity, "callee", callee.Identity,
		"roomID", call.RoomID, "callType", callType)
	return nil
}

// resolveCallee picks the target of an initiate: a member of the caller's
// room when a room is named, otherwise the identity's live connection.
func (h *Hub) resolveCallee(entry *Entry, ev InitiateCall) (Party, error) {
	if ev.RoomID == "" {
		if ev.TargetIdentity == "" {
			return Party{}, wrap(ErrBadRequest, "targetIdentity is required")
		}
		if ev.TargetIdentity == entry.Identity {
			return Party{}, wrap(ErrInvalidState, "cannot call yourself")
		}
		target, err := h.registry.Resolve(ev.TargetIdentity)
		if err != nil {
			return Party{}, err
		}
		return Party{ConnID: target.Conn.ID(), Identity: target.Identity}, nil
	}

	room, ok := h.rooms.Get(ev.RoomID)
	if !ok || entry.RoomID != ev.RoomID {
		return Party{}, wrap(ErrInvalidState, "not a member of room %s", ev.RoomID)
	}
	if room.Len() <= 1 {
		return Party{}, wrap(ErrNoOtherMembers, "room %s", ev.RoomID)
	}
	if _, busy := h.calls.ForRoom(room.ID); busy {
		return Party{}, wrap(ErrCallAlreadyInProgress, "room %s already has a call", room.ID)
	}

	var (
		m     Member
		found bool
	)
	switch {
	case ev.TargetConnectionID != "":
		m, found = room.Member(ev.TargetConnectionID)
	case ev.TargetIdentity != "":
		m, found = room.MemberByIdentity(ev.TargetIdentity)
	default:
		return Party{}, wrap(ErrBadRequest, "an explicit call target is required")
	}
	if !found {
		return Party{}, wrap(ErrTargetOffline, "target is not in room %s", room.ID)
	}
	if m.ConnID == entry.Conn.ID() {
		return Party{}, wrap(ErrInvalidState, "cannot call yourself")
	}
	return Party{ConnID: m.ConnID, Identity: m.Identity}, nil
}

func (h *Hub) accept(entry *Entry, ev AcceptCall) error {
	if blank(ev.Answer) {
		return wrap(ErrBadRequest, "answer is required")
	}
	call, err := h.calls.Accept(entry.Conn.ID(), h.opts.Now())
	if err != nil {
		return err
	}

	answered := models.CallAnsweredPayload{CallID: call.ID, Answer: ev.Answer}
	if !h.emit(call.Caller.ConnID, models.SignalTypeCallAnswered, entry.Identity, call.RoomID, answered) {
		h.unresolved(entry, call)
		return nil
	}
	for _, candidate := range call.takePending() {
		h.emit(call.Callee.ConnID, models.SignalTypeCallICE, call.Caller.Identity, call.RoomID, models.CallICERelayPayload{
			CallID:    call.ID,
			Candidate: candidate,
		})
	}
	h.logger.Info("call active", "callID", call.ID, "caller", call.Caller.Identity, "callee", call.Callee.Identity)
	return nil
}

func (h *Hub) reject(entry *Entry) error {
	connID := entry.Conn.ID()
	call, ok := h.calls.ForConn(connID)
	if !ok {
		return wrap(ErrInvalidState, "no call to reject")
	}
	if call.Callee.ConnID != connID || call.Phase != models.CallPhaseRinging {
		return wrap(ErrInvalidState, "call cannot be rejected while %s", call.Phase)
	}

	h.calls.Remove(call.ID)
	h.emit(call.Caller.ConnID, models.SignalTypeCallRejected, entry.Identity, call.RoomID, models.CallRejectedPayload{
		CallID: call.ID,
	})
	h.logger.Info("call rejected", "callID", call.ID, "callee", entry.Identity)
	return nil
}

func (h *Hub) relayICE(entry *Entry, ev RelayICE) error {
	if blank(ev.Candidate) {
		return wrap(ErrBadRequest, "candidate is required")
	}
	connID := entry.Conn.ID()
	call, ok := h.calls.ForConn(connID)
	if !ok {
		return wrap(ErrInvalidState, "no call in progress")
	}

	if call.Phase == models.CallPhaseRinging && h.opts.HoldRingingCandidates && connID == call.Caller.ConnID {
		if !call.hold(ev.Candidate) {
			h.logger.Warn("pending candidate queue full, dropping candidate", "callID", call.ID)
		}
		return nil
	}

	peer, _ := call.Peer(connID)
	relay := models.CallICERelayPayload{CallID: call.ID, Candidate: ev.Candidate}
	if !h.emit(peer.ConnID, models.SignalTypeCallICE, entry.Identity, call.RoomID, relay) {
		h.unresolved(entry, call)
	}
	return nil
}

func (h *Hub) end(entry *Entry) error {
	call, ok := h.calls.ForConn(entry.Conn.ID())
	if !ok {
		return wrap(ErrInvalidState, "no call to end")
	}
	h.terminate(call, models.EndReasonUserEnded, entry.Conn.ID())
	return nil
}

func (h *Hub) expire(callID string) {
	call, ok := h.calls.Get(callID)
	if !ok || call.Phase != models.CallPhaseRinging {
		return
	}
	call.stopTimer = nil
	h.logger.Info("call timed out while ringing", "callID", call.ID)
	h.terminate(call, models.EndReasonTimeout, "")
}

// terminate drives call to idle and tells every participant other than
// initiator why it ended.
func (h *Hub) terminate(call *Call, reason, initiator string) {
	h.calls.Remove(call.ID)

	var from string
	switch initiator {
	case call.Caller.ConnID:
		from = call.Caller.Identity
	case call.Callee.ConnID:
		from = call.Callee.Identity
	}
	payload := models.CallEndedPayload{CallID: call.ID, Reason: reason}
	for _, p := range []Party{call.Caller, call.Callee} {
		if p.ConnID == initiator {
			continue
		}
		h.emit(p.ConnID, models.SignalTypeCallEnded, from, call.RoomID, payload)
	}
	h.logger.Info("call ended", "callID", call.ID, "reason", reason)
}

// unresolved reports a relay failure to the sender and tears the call down.
func (h *Hub) unresolved(entry *Entry, call *Call) {
	peer, _ := call.Peer(entry.Conn.ID())
	h.replyError(entry, wrap(ErrRelayTargetUnresolved, "%s is unreachable", peer.Identity))
	h.terminate(call, models.EndReasonUserDisconnected, "")
}

// Delivery

func (h *Hub) replyError(entry *Entry, err error) {
	h.logger.Debug("rejecting client event", "connID", entry.Conn.ID(), "code", CodeOf(err), "error", err)
	h.emit(entry.Conn.ID(), models.SignalTypeCallError, "", "", models.CallErrorPayload{
		Code:    string(CodeOf(err)),
		Message: err.Error(),
	})
}

func (h *Hub) emit(connID string, typ models.SignalType, from, roomID string, payload any) bool {
	data, err := Encode(typ, from, roomID, payload)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", typ, "error", err)
		return false
	}
	return h.sendTo(connID, data)
}

func (h *Hub) broadcast(connIDs []string, typ models.SignalType, from, roomID string, payload any) {
	if len(connIDs) == 0 {
		return
	}
	data, err := Encode(typ, from, roomID, payload)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", typ, "error", err)
		return
	}
	for _, id := range connIDs {
		h.sendTo(id, data)
	}
}

func (h *Hub) sendTo(connID string, data []byte) bool {
	entry, ok := h.registry.Lookup(connID)
	if !ok {
		return false
	}
	if !entry.Conn.Send(data) {
		h.logger.Warn("failed to queue message, buffer full", "connID", connID)
		return false
	}
	return true
}

// Encode builds an outbound frame. Raw offer/answer/candidate payloads keep
// their JSON values and string contents exactly; insignificant whitespace is
// compacted and nothing is HTML-escaped.
func Encode(typ models.SignalType, from, roomID string, payload any) ([]byte, error) {
	msg := models.SignalMessage{Type: typ, From: from, RoomID: roomID}
	if payload != nil {
		raw, err := marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return marshal(msg)
}

// ErrorFrame renders err as a call:error frame for the originating
// connection.
func ErrorFrame(err error) []byte {
	data, _ := Encode(models.SignalTypeCallError, "", "", models.CallErrorPayload{
		Code:    string(CodeOf(err)),
		Message: err.Error(),
	})
	return data
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

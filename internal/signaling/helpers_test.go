package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame the hub queues for it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []models.SignalMessage
	refuse bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	var msg models.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(err)
	}
	c.frames = append(c.frames, msg)
	return true
}

func (c *fakeConn) setRefuse(v bool) {
	c.mu.Lock()
	c.refuse = v
	c.mu.Unlock()
}

func (c *fakeConn) all() []models.SignalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SignalMessage, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) types() []models.SignalType {
	var out []models.SignalType
	for _, f := range c.all() {
		out = append(out, f.Type)
	}
	return out
}

func (c *fakeConn) ofType(t models.SignalType) []models.SignalMessage {
	var out []models.SignalMessage
	for _, f := range c.all() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func payloadOf[T any](t *testing.T, msg models.SignalMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		live := !t.stopped && !t.fired
		t.stopped = true
		return live
	}
}

func (c *fakeClock) fire() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			t.f()
			n++
		}
	}
	return n
}

// harness drives a Hub synchronously, without Run.
type harness struct {
	t     *testing.T
	hub   *Hub
	clock *fakeClock
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	o := Options{
		RingTimeout:  30 * time.Second,
		HistoryLimit: 50,
		Logger:       logging.Discard(),
		Now:          clock.Now,
		AfterFunc:    clock.AfterFunc,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &harness{t: t, hub: NewHub(o), clock: clock}
}

func (h *harness) connect(id, identity string) *fakeConn {
	h.t.Helper()
	c := newFakeConn(id)
	reply := make(chan error, 1)
	h.hub.process(item{connID: id, ev: connectEvent{conn: c, identity: identity, displayName: identity, reply: reply}})
	require.NoError(h.t, <-reply)
	return c
}

func (h *harness) send(c *fakeConn, ev Event) {
	h.hub.process(item{connID: c.id, ev: ev})
}

func (h *harness) disconnect(c *fakeConn) {
	h.hub.process(item{connID: c.id, ev: disconnectEvent{}})
}

// drain processes whatever timers or other goroutines queued.
func (h *harness) drain() {
	for {
		select {
		case it := <-h.hub.inbox:
			h.hub.process(it)
		default:
			return
		}
	}
}

func (h *harness) call(from, to *fakeConn, toIdentity string) string {
	h.t.Helper()
	h.send(from, InitiateCall{TargetIdentity: toIdentity, Offer: json.RawMessage(`{"sdp":"offer"}`), CallType: models.CallTypeVideo})
	incoming := to.ofType(models.SignalTypeCallIncoming)
	require.NotEmpty(h.t, incoming, "callee got no call:incoming")
	return payloadOf[models.CallIncomingPayload](h.t, incoming[len(incoming)-1]).CallID
}

func lastError(t *testing.T, c *fakeConn) models.CallErrorPayload {
	t.Helper()
	errs := c.ofType(models.SignalTypeCallError)
	require.NotEmpty(t, errs, "expected a call:error")
	return payloadOf[models.CallErrorPayload](t, errs[len(errs)-1])
}

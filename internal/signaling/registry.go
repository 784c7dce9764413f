package signaling

import "sort"

// Conn is a live transport session as seen by the hub. Send must not block;
// it reports false when the frame could not be queued.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// Entry binds a live connection to its authenticated identity.
type Entry struct {
	Conn        Conn
	Identity    string
	DisplayName string
	RoomID      string
}

// Registry maps connection ids and identities to live connections. It is
// owned by the hub goroutine and is not safe for concurrent use.
type Registry struct {
	byConn     map[string]*Entry
	byIdentity map[string][]string // connection ids in registration order
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[string]*Entry),
		byIdentity: make(map[string][]string),
	}
}

// Register binds conn to identity. first reports whether this is the only
// live connection for identity.
func (r *Registry) Register(conn Conn, identity, displayName string) (entry *Entry, first bool, err error) {
	if _, exists := r.byConn[conn.ID()]; exists {
		return nil, false, wrap(ErrDuplicateBinding, "connection %s", conn.ID())
	}
	if displayName == "" {
		displayName = identity
	}
	entry = &Entry{Conn: conn, Identity: identity, DisplayName: displayName}
	r.byConn[conn.ID()] = entry
	r.byIdentity[identity] = append(r.byIdentity[identity], conn.ID())
	return entry, len(r.byIdentity[identity]) == 1, nil
}

// Lookup returns the entry for a connection id.
func (r *Registry) Lookup(connID string) (*Entry, bool) {
	e, ok := r.byConn[connID]
	return e, ok
}

// Resolve returns the most recently registered connection of identity.
func (r *Registry) Resolve(identity string) (*Entry, error) {
	ids := r.byIdentity[identity]
	if len(ids) == 0 {
		return nil, wrap(ErrTargetOffline, "%s", identity)
	}
	return r.byConn[ids[len(ids)-1]], nil
}

// Unregister removes a connection. Calling it again for the same id is a
// no-op that reports ok=false. last reports whether the identity has no
// remaining connections.
func (r *Registry) Unregister(connID string) (entry *Entry, last bool, ok bool) {
	entry, ok = r.byConn[connID]
	if !ok {
		return nil, false, false
	}
	delete(r.byConn, connID)

	ids := r.byIdentity[entry.Identity]
	for i, id := range ids {
		if id == connID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byIdentity, entry.Identity)
		return entry, true, true
	}
	r.byIdentity[entry.Identity] = ids
	return entry, false, true
}

// Identities returns the online identities in sorted order.
func (r *Registry) Identities() []string {
	out := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.byConn)
}

package signaling

import "github.com/mossy-p/call-signaling/internal/models"

// Member is one connection's seat in a room.
type Member struct {
	ConnID      string
	Identity    string
	DisplayName string
}

// Room holds membership in join order and a bounded chat log.
type Room struct {
	ID       string
	members  []Member
	messages []models.ChatMessage
	limit    int
}

func (r *Room) Len() int {
	return len(r.members)
}

// Members returns a copy of the member list in join order.
func (r *Room) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Room) Member(connID string) (Member, bool) {
	for _, m := range r.members {
		if m.ConnID == connID {
			return m, true
		}
	}
	return Member{}, false
}

// MemberByIdentity returns the earliest-joined member with identity.
func (r *Room) MemberByIdentity(identity string) (Member, bool) {
	for _, m := range r.members {
		if m.Identity == identity {
			return m, true
		}
	}
	return Member{}, false
}

// Append adds a message to the log, keeping at most limit entries.
func (r *Room) Append(msg models.ChatMessage) {
	r.messages = append(r.messages, msg)
	if len(r.messages) > 2*r.limit {
		r.messages = append([]models.ChatMessage(nil), r.messages[len(r.messages)-r.limit:]...)
	}
}

// Recent returns up to limit of the newest messages, oldest first.
func (r *Room) Recent() []models.ChatMessage {
	start := 0
	if len(r.messages) > r.limit {
		start = len(r.messages) - r.limit
	}
	out := make([]models.ChatMessage, len(r.messages)-start)
	copy(out, r.messages[start:])
	return out
}

// put adds m, or replaces the existing member with the same connection in
// place so join order is kept.
func (r *Room) put(m Member) {
	for i := range r.members {
		if r.members[i].ConnID == m.ConnID {
			r.members[i] = m
			return
		}
	}
	r.members = append(r.members, m)
}

func (r *Room) remove(connID string) bool {
	for i, m := range r.members {
		if m.ConnID == connID {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// Rooms tracks every live room. Owned by the hub goroutine.
type Rooms struct {
	rooms        map[string]*Room
	historyLimit int
}

func NewRooms(historyLimit int) *Rooms {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Rooms{
		rooms:        make(map[string]*Room),
		historyLimit: historyLimit,
	}
}

func (rs *Rooms) Get(roomID string) (*Room, bool) {
	r, ok := rs.rooms[roomID]
	return r, ok
}

// Join adds m to roomID, creating the room if needed. Joining again
// refreshes the member's details. seed preloads the log of a newly created
// room with archived history.
func (rs *Rooms) Join(roomID string, m Member, seed []models.ChatMessage) (room *Room, created bool) {
	room, ok := rs.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, limit: rs.historyLimit}
		for _, msg := range seed {
			room.Append(msg)
		}
		rs.rooms[roomID] = room
		created = true
	}
	room.put(m)
	return room, created
}

// Leave removes connID from roomID and deletes the room once it is empty.
func (rs *Rooms) Leave(roomID, connID string) (room *Room, removed, deleted bool) {
	room, ok := rs.rooms[roomID]
	if !ok {
		return nil, false, false
	}
	removed = room.remove(connID)
	if room.Len() == 0 {
		delete(rs.rooms, roomID)
		deleted = true
	}
	return room, removed, deleted
}

func (rs *Rooms) Len() int {
	return len(rs.rooms)
}

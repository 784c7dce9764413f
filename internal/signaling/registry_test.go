package signaling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	entry, first, err := r.Register(newFakeConn("c1"), "alice", "")
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, "alice", entry.DisplayName, "display name falls back to identity")

	got, err := r.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Conn.ID())

	_, err = r.Resolve("bob")
	assert.True(t, errors.Is(err, ErrTargetOffline))
}

func TestRegistryDuplicateBinding(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("c1")

	_, _, err := r.Register(conn, "alice", "Alice")
	require.NoError(t, err)

	_, _, err = r.Register(conn, "alice", "Alice")
	assert.True(t, errors.Is(err, ErrDuplicateBinding))
	assert.Equal(t, CodeDuplicateBinding, CodeOf(err))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryLastRegisteredWins(t *testing.T) {
	r := NewRegistry()
	_, first, _ := r.Register(newFakeConn("phone"), "alice", "")
	assert.True(t, first)
	_, first, _ = r.Register(newFakeConn("laptop"), "alice", "")
	assert.False(t, first)

	got, err := r.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.Conn.ID())

	// Dropping the older device keeps the newer binding.
	_, last, ok := r.Unregister("phone")
	assert.True(t, ok)
	assert.False(t, last)
	got, err = r.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.Conn.ID())

	_, last, ok = r.Unregister("laptop")
	assert.True(t, ok)
	assert.True(t, last)
	_, err = r.Resolve("alice")
	assert.Error(t, err)
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1"), "alice", "")

	_, _, ok := r.Unregister("c1")
	assert.True(t, ok)
	_, _, ok = r.Unregister("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Identities())
}

func TestRegistryIdentitiesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("1"), "carol", "")
	r.Register(newFakeConn("2"), "alice", "")
	r.Register(newFakeConn("3"), "bob", "")
	r.Register(newFakeConn("4"), "alice", "")

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Identities())
	assert.Len(t, r.Entries(), 4)
}

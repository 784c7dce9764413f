package handlers

import (
	"net/http"
	"testing"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t, true)
	alice := env.store.addUser(t, "alice@example.com", "Alice", "password1")

	rec := env.do(t, http.MethodGet, "/api/users/me", nil, env.token(t, alice.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.Email, decodeBody[models.User](t, rec).Email)

	rec = env.do(t, http.MethodGet, "/api/users/me", nil, env.token(t, "ghost"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchUsers(t *testing.T) {
	env := newTestEnv(t, true)
	alice := env.store.addUser(t, "alice@example.com", "Alice", "password1")
	env.store.addUser(t, "alicia@example.com", "Alicia", "password1")
	env.store.addUser(t, "bob@example.com", "Bob", "password1")
	token := env.token(t, alice.ID)

	rec := env.do(t, http.MethodGet, "/api/users/search?q=ali", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[struct {
		Users []models.User `json:"users"`
	}](t, rec)
	require.Len(t, got.Users, 1, "caller is excluded")
	assert.Equal(t, "Alicia", got.Users[0].DisplayName)

	rec = env.do(t, http.MethodGet, "/api/users/search?q=a", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContacts(t *testing.T) {
	env := newTestEnv(t, true)
	alice := env.store.addUser(t, "alice@example.com", "Alice", "password1")
	bob := env.store.addUser(t, "bob@example.com", "Bob", "password1")
	token := env.token(t, alice.ID)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "add", body: models.AddContactRequest{ContactID: bob.ID}, wantStatus: http.StatusCreated},
		{name: "duplicate", body: models.AddContactRequest{ContactID: bob.ID}, wantStatus: http.StatusConflict},
		{name: "self", body: models.AddContactRequest{ContactID: alice.ID}, wantStatus: http.StatusBadRequest},
		{name: "unknown", body: models.AddContactRequest{ContactID: "ghost"}, wantStatus: http.StatusNotFound},
		{name: "missing id", body: map[string]string{}, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/contacts", tt.body, token)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodGet, "/api/contacts", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[struct {
		Contacts []models.User `json:"contacts"`
	}](t, rec)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, bob.ID, got.Contacts[0].ID)
}

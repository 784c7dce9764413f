package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/signaling"
	"github.com/mossy-p/call-signaling/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testSecret = "handlers-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	hashes   map[string][]byte
	contacts map[string][]string
	messages map[string][]models.ChatMessage
	chats    map[string][]string
	direct   map[string][]models.DirectMessage
	fail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]*models.User{},
		hashes:   map[string][]byte{},
		contacts: map[string][]string{},
		messages: map[string][]models.ChatMessage{},
		chats:    map[string][]string{},
		direct:   map[string][]models.DirectMessage{},
	}
}

func (s *fakeStore) addUser(t *testing.T, email, displayName, password string) *models.User {
	t.Helper()
	hash, err := store.HashPassword(password)
	require.NoError(t, err)
	u, err := s.CreateUser(context.Background(), email, displayName, hash)
	require.NoError(t, err)
	return u
}

func (s *fakeStore) CreateUser(_ context.Context, email, displayName string, hash []byte) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	for _, u := range s.users {
		if u.Email == email {
			return nil, store.ErrEmailTaken
		}
	}
	u := &models.User{ID: uuid.New().String(), Email: email, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	s.hashes[u.ID] = hash
	return u, nil
}

func (s *fakeStore) UserByEmail(_ context.Context, email string) (*models.User, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, nil, s.fail
	}
	for _, u := range s.users {
		if u.Email == email {
			return u, s.hashes[u.ID], nil
		}
	}
	return nil, nil, store.ErrUserNotFound
}

func (s *fakeStore) UserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrUserNotFound
}

func (s *fakeStore) SearchUsers(_ context.Context, query, excludeID string, limit int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	for _, u := range s.users {
		if u.ID != excludeID && (strings.Contains(u.Email, query) || strings.Contains(u.DisplayName, query)) {
			out = append(out, *u)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) AddContact(_ context.Context, userID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[contactID]; !ok {
		return store.ErrUserNotFound
	}
	if slices.Contains(s.contacts[userID], contactID) {
		return store.ErrContactExists
	}
	s.contacts[userID] = append(s.contacts[userID], contactID)
	return nil
}

func (s *fakeStore) Contacts(_ context.Context, userID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.User{}
	for _, id := range s.contacts[userID] {
		out = append(out, *s.users[id])
	}
	return out, nil
}

func (s *fakeStore) RecentMessages(_ context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	msgs := s.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.ChatMessage{}, msgs...), nil
}

func (s *fakeStore) AppendMessage(_ context.Context, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)
	return nil
}

func (s *fakeStore) OpenChat(_ context.Context, userID, targetID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", false, s.fail
	}
	if _, ok := s.users[targetID]; !ok {
		return "", false, store.ErrUserNotFound
	}
	for id, members := range s.chats {
		if slices.Contains(members, userID) && slices.Contains(members, targetID) {
			return id, false, nil
		}
	}
	id := uuid.New().String()
	s.chats[id] = []string{userID, targetID}
	return id, true, nil
}

func (s *fakeStore) Chats(_ context.Context, userID string) ([]models.DirectChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.DirectChat{}
	for id, members := range s.chats {
		if !slices.Contains(members, userID) {
			continue
		}
		chat := models.DirectChat{ID: id}
		for _, m := range members {
			if m != userID {
				chat.Peer = *s.users[m]
			}
		}
		if msgs := s.direct[id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			chat.LastText, chat.LastTime = &last.Text, &last.SentAt
		}
		out = append(out, chat)
	}
	return out, nil
}

func (s *fakeStore) ChatMessages(_ context.Context, chatID, userID string, limit int) ([]models.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.chats[chatID], userID) {
		return nil, store.ErrNotParticipant
	}
	msgs := s.direct[chatID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.DirectMessage{}, msgs...), nil
}

func (s *fakeStore) AppendChatMessage(_ context.Context, chatID, senderID, text string) (*models.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.chats[chatID], senderID) {
		return nil, store.ErrNotParticipant
	}
	m := models.DirectMessage{ID: uuid.New().String(), ChatID: chatID, SenderID: senderID, Text: text, SentAt: time.Now().UTC()}
	s.direct[chatID] = append(s.direct[chatID], m)
	return &m, nil
}

func (s *fakeStore) archived(roomID string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage{}, s.messages[roomID]...)
}

var errStoreDown = errors.New("store down")

// testEnv is a router wired to miniredis, a running hub and optionally a
// fake store.
type testEnv struct {
	router *gin.Engine
	hub    *signaling.Hub
	rooms  *redis.RoomDirectory
	store  *fakeStore
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := &testEnv{rooms: redis.NewRoomDirectory(rdb), mr: mr}

	hubOpts := signaling.Options{RingTimeout: 5 * time.Second, Logger: logging.Discard()}
	routerOpts := RouterOptions{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
		TokenTTL:       time.Hour,
		ICEServers:     []string{"stun:stun.example.org:3478", "turn:turn.example.org:3478"},
		HistoryLimit:   50,
		Rooms:          env.rooms,
		Logger:         logging.Discard(),
	}
	if withStore {
		env.store = newFakeStore()
		hubOpts.Archive = env.store
		routerOpts.Store = env.store
	}

	env.hub = signaling.NewHub(hubOpts)
	routerOpts.Hub = env.hub
	ctx, cancel := context.WithCancel(context.Background())
	go env.hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-env.hub.Done()
	})

	env.router = NewRouter(routerOpts)
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// Compile-time checks.
var (
	_ Store             = (*store.Postgres)(nil)
	_ RoomDirectory     = (*redis.RoomDirectory)(nil)
	_ signaling.Archive = (*store.Postgres)(nil)
	_ signaling.Conn    = (*Client)(nil)
)

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestICEServers(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/ice-servers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}](t, rec)
	require.Len(t, got.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, got.ICEServers[0].URLs)
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, got.ICEServers[1].URLs)
}

func TestPresenceEmpty(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/presence", nil, env.token(t, "alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"online":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/presence", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOriginFilter(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantStatus int
		wantCORS   bool
	}{
		{name: "allowed", allowed: []string{"http://app.test"}, method: http.MethodGet, origin: "http://app.test", wantStatus: http.StatusOK, wantCORS: true},
		{name: "no origin", allowed: []string{"http://app.test"}, method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "rejected", allowed: []string{"http://app.test"}, method: http.MethodGet, origin: "http://evil.test", wantStatus: http.StatusForbidden},
		{name: "wildcard", allowed: []string{"*"}, method: http.MethodGet, origin: "http://any.test", wantStatus: http.StatusOK, wantCORS: true},
		{name: "preflight", allowed: []string{"http://app.test"}, method: http.MethodOptions, origin: "http://app.test", wantStatus: http.StatusNoContent, wantCORS: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(OriginFilter(tt.allowed))
			router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCORS {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

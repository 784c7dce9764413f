package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// Presence lists identities with a live signaling connection.
func Presence(hub *signaling.Hub, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		online, err := hub.Online(c.Request.Context())
		if err != nil {
			logger.Warn("presence query failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Signaling unavailable"})
			return
		}
		if online == nil {
			online = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"online": online})
	}
}

// ICEServers returns the STUN/TURN servers clients should hand to their
// RTCPeerConnection.
func ICEServers(urls []string) gin.HandlerFunc {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	}
}

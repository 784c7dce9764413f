package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/signaling"
)

// RouterOptions collects everything the HTTP surface needs. Store is nil
// when no database is configured; account, chat and history routes are then
// not registered and login falls back to demo mode.
type RouterOptions struct {
	AllowedOrigins []string
	JWTSecret      string
	TokenTTL       time.Duration
	ICEServers     []string
	HistoryLimit   int

	Hub    *signaling.Hub
	Rooms  RoomDirectory
	Store  Store
	Logger *slog.Logger
}

func NewRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(opts.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	logger := opts.Logger.With("component", "http")
	auth := middleware.JWTAuth(opts.JWTSecret)
	authOpts := AuthOptions{JWTSecret: opts.JWTSecret, TokenTTL: opts.TokenTTL, Logger: logger}
	signalingOpts := SignalingOptions{
		Hub:          opts.Hub,
		Rooms:        opts.Rooms,
		HistoryLimit: opts.HistoryLimit,
		Logger:       opts.Logger.With("component", "websocket"),
	}
	if opts.Store != nil {
		authOpts.Accounts = opts.Store
		signalingOpts.History = opts.Store
	}

	api := router.Group("/api")
	{
		api.POST("/auth/login", Login(authOpts))

		api.POST("/rooms", auth, CreateRoom(opts.Rooms, logger))
		api.GET("/rooms/:roomId", GetRoom(opts.Rooms, logger))
		api.DELETE("/rooms/:roomId", auth, DeleteRoom(opts.Rooms, logger))

		api.GET("/presence", auth, Presence(opts.Hub, logger))
		api.GET("/ice-servers", ICEServers(opts.ICEServers))

		if opts.Store != nil {
			api.POST("/auth/register", Register(authOpts))
			api.GET("/users/me", auth, CurrentUser(opts.Store, logger))
			api.GET("/users/search", auth, SearchUsers(opts.Store, logger))
			api.GET("/contacts", auth, ListContacts(opts.Store, logger))
			api.POST("/contacts", auth, AddContact(opts.Store, logger))
			api.POST("/chats/open", auth, OpenChat(opts.Store, logger))
			api.GET("/chats", auth, ListChats(opts.Store, logger))
			api.GET("/chats/:chatId/messages", auth, ChatMessages(opts.Store, logger))
			api.POST("/chats/:chatId/messages", auth, SendChatMessage(opts.Store, logger))
			api.GET("/rooms/:roomId/messages", auth, RoomMessages(opts.Rooms, opts.Store, logger))
		}
	}

	router.GET("/ws/signal", auth, HandleSignaling(signalingOpts))

	return router
}

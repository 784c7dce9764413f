package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/store"
)

const chatHistoryLimit = 500

// OpenChat finds or creates the direct chat with targetUserId.
func OpenChat(chats DirectChats, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.OpenChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetString(middleware.ContextUserID)
		if req.TargetUserID == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot open a chat with yourself"})
			return
		}

		chatID, created, err := chats.OpenChat(c.Request.Context(), userID, req.TargetUserID)
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		if err != nil {
			logger.Error("failed to open chat", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open chat"})
			return
		}

		status := http.StatusOK
		if created {
			logger.Info("direct chat created", "chatID", chatID)
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"chatId": chatID})
	}
}

func ListChats(chats DirectChats, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := chats.Chats(c.Request.Context(), c.GetString(middleware.ContextUserID))
		if err != nil {
			logger.Error("failed to list chats", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"chats": list})
	}
}

// ChatMessages returns the newest messages of a chat, oldest first.
func ChatMessages(chats DirectChats, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")
		msgs, err := chats.ChatMessages(c.Request.Context(), chatID, c.GetString(middleware.ContextUserID), chatHistoryLimit)
		if errors.Is(err, store.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		if err != nil {
			logger.Error("failed to load chat messages", "chatID", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

func SendChatMessage(chats DirectChats, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SendDirectMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid text"})
			return
		}

		chatID := c.Param("chatId")
		msg, err := chats.AppendChatMessage(c.Request.Context(), chatID, c.GetString(middleware.ContextUserID), text)
		if errors.Is(err, store.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		if err != nil {
			logger.Error("failed to send chat message", "chatID", chatID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/redis"
)

const maxHistoryPage = 500

// CreateRoom creates a new room (requires authentication)
func CreateRoom(rooms RoomDirectory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		// An empty body takes the defaults.
		var req models.CreateRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		room, err := rooms.Create(c.Request.Context(), userID, req.MaxMembers)
		if err != nil {
			logger.Error("failed to create room", "userID", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		logger.Info("room created", "roomID", room.ID, "code", room.Code, "userID", userID)

		c.JSON(http.StatusCreated, models.CreateRoomResponse{
			RoomID: room.ID,
			Code:   room.Code,
		})
	}
}

// GetRoom gets room information by code or ID (public)
func GetRoom(rooms RoomDirectory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := rooms.Get(c.Request.Context(), c.Param("roomId"))
		if errors.Is(err, redis.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		if err != nil {
			logger.Error("failed to load room", "roomID", c.Param("roomId"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}

		c.JSON(http.StatusOK, room)
	}
}

// DeleteRoom deletes a room (requires authentication and creator)
func DeleteRoom(rooms RoomDirectory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		roomID := c.Param("roomId")
		err := rooms.Delete(c.Request.Context(), roomID, userID)
		switch {
		case errors.Is(err, redis.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		case errors.Is(err, redis.ErrNotCreator):
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
			return
		case err != nil:
			logger.Error("failed to delete room", "roomID", roomID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
			return
		}

		logger.Info("room deleted", "roomID", roomID, "userID", userID)

		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	}
}

// RoomMessages returns archived chat for a room, oldest first.
// Accepts a room code or id and an optional ?limit= (default 50, max 500).
func RoomMessages(rooms RoomDirectory, history MessageHistory, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxHistoryPage {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
				return
			}
			limit = n
		}

		roomID := c.Param("roomId")
		room, err := rooms.Get(c.Request.Context(), roomID)
		switch {
		case err == nil:
			roomID = room.ID
		case !errors.Is(err, redis.ErrRoomNotFound):
			logger.Error("failed to load room", "roomID", roomID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}

		msgs, err := history.RecentMessages(c.Request.Context(), roomID, limit)
		if err != nil {
			logger.Error("failed to load room history", "roomID", roomID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": msgs})
	}
}

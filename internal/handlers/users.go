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

const searchLimit = 20

func CurrentUser(accounts Accounts, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := accounts.UserByID(c.Request.Context(), c.GetString(middleware.ContextUserID))
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		if err != nil {
			logger.Error("failed to load user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// SearchUsers matches ?q= against email and display name.
func SearchUsers(accounts Accounts, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := strings.TrimSpace(c.Query("q"))
		if len(q) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query must be at least 2 characters"})
			return
		}

		users, err := accounts.SearchUsers(c.Request.Context(), q, c.GetString(middleware.ContextUserID), searchLimit)
		if err != nil {
			logger.Error("user search failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

func ListContacts(accounts Accounts, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		contacts, err := accounts.Contacts(c.Request.Context(), c.GetString(middleware.ContextUserID))
		if err != nil {
			logger.Error("failed to list contacts", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list contacts"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"contacts": contacts})
	}
}

func AddContact(accounts Accounts, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AddContactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetString(middleware.ContextUserID)
		if req.ContactID == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot add yourself as a contact"})
			return
		}

		err := accounts.AddContact(c.Request.Context(), userID, req.ContactID)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		case errors.Is(err, store.ErrContactExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Contact already added"})
			return
		case err != nil:
			logger.Error("failed to add contact", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add contact"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "Contact added"})
	}
}

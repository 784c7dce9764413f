package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/store"
)

// AuthOptions configures token issuing. Without Accounts, Login accepts any
// username/password and uses the username as the identity.
type AuthOptions struct {
	JWTSecret string
	TokenTTL  time.Duration
	Accounts  Accounts
	Logger    *slog.Logger
}

// Login handles user login and JWT generation
func Login(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		userID := strings.TrimSpace(req.Username)
		var user *models.User
		if opts.Accounts != nil {
			u, hash, err := opts.Accounts.UserByEmail(c.Request.Context(), req.Username)
			if err != nil && !errors.Is(err, store.ErrUserNotFound) {
				opts.Logger.Error("failed to load user", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
				return
			}
			if err != nil || !store.CheckPassword(hash, req.Password) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			user = u
			userID = u.ID
		}
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		tokenString, err := middleware.IssueToken(opts.JWTSecret, userID, opts.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, models.LoginResponse{
			Token:  tokenString,
			UserID: userID,
			User:   user,
		})
	}
}

// Register creates an account and logs it in.
func Register(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		hash, err := store.HashPassword(req.Password)
		if err != nil {
			opts.Logger.Error("failed to hash password", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
			return
		}

		user, err := opts.Accounts.CreateUser(c.Request.Context(), req.Email, strings.TrimSpace(req.DisplayName), hash)
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		if err != nil {
			opts.Logger.Error("failed to create user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
			return
		}

		tokenString, err := middleware.IssueToken(opts.JWTSecret, user.ID, opts.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		opts.Logger.Info("user registered", "userID", user.ID)

		c.JSON(http.StatusCreated, models.LoginResponse{
			Token:  tokenString,
			UserID: user.ID,
			User:   user,
		})
	}
}

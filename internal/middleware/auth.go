package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/kettle/internal/auth"
	"github.com/mmynk/kettle/internal/models"
)

const (
	// UserKey is the gin context key for the authenticated user.
	UserKey = "user"
)

// UserRegistry records users the first time a valid token names them.
type UserRegistry interface {
	EnsureUser(ctx context.Context, user *models.User) error
}

// GetUser returns the authenticated user, or nil before RequireAuth ran.
func GetUser(c *gin.Context) *models.User {
	user, _ := c.Get(UserKey)
	u, _ := user.(*models.User)
	return u
}

// GetUserID extracts the user ID from the context.
// Returns zero if not found.
func GetUserID(c *gin.Context) models.UserID {
	if u := GetUser(c); u != nil {
		return u.ID
	}
	return 0
}

// RequireAuth returns a middleware that validates JWT tokens and requires authentication.
// It extracts the token from the Authorization header, validates it, upserts the
// user and stores it in the gin context.
func RequireAuth(jwtManager *auth.JWTManager, users UserRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": auth.ErrMissingToken.Error()})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": auth.ErrInvalidToken.Error()})
			return
		}

		claims, err := jwtManager.Validate(parts[1])
		if err != nil {
			msg := auth.ErrInvalidToken.Error()
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = auth.ErrExpiredToken.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msg})
			return
		}

		user := claims.User()
		if err := users.EnsureUser(c.Request.Context(), user); err != nil {
			slog.Error("EnsureUser failed", "user_id", user.ID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "An error occurred."})
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

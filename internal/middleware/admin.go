package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards the operator control endpoints with a static API key.
// The key may be configured in plain text or as a bcrypt hash; the hash wins
// when both are set.
type AdminMiddleware struct {
	apiKey     string
	apiKeyHash []byte
}

// NewAdminMiddleware creates a new admin authentication middleware
func NewAdminMiddleware(cfg config.SecurityConfig) *AdminMiddleware {
	am := &AdminMiddleware{apiKey: cfg.AdminAPIKey}
	if cfg.AdminAPIKeyHash != "" {
		am.apiKeyHash = []byte(cfg.AdminAPIKeyHash)
	}
	return am
}

// Configured reports whether any admin key is set. Without one every control
// request is rejected.
func (am *AdminMiddleware) Configured() bool {
	return am.apiKey != "" || len(am.apiKeyHash) > 0
}

// RequireAdminAuth middleware validates admin API keys
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := adminKeyFromRequest(c); key != "" && am.ValidateAdminKey(key) {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
		c.Abort()
	}
}

// ValidateAdminKey validates an admin API key
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if key == "" {
		return false
	}
	if len(am.apiKeyHash) > 0 {
		return bcrypt.CompareHashAndPassword(am.apiKeyHash, []byte(key)) == nil
	}
	if am.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(am.apiKey)) == 1
}

// adminKeyFromRequest reads the key from a Bearer Authorization header or the
// X-API-Key header.
func adminKeyFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) == 2 && strings.EqualFold(tokenParts[0], "bearer") {
			return tokenParts[1]
		}
	}
	return c.GetHeader("X-API-Key")
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/flashloan-arb-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// TokenIssuer signs dashboard tokens.
type TokenIssuer interface {
	GenerateToken(subject, role string, duration time.Duration) (string, time.Time, error)
}

// AuthHandler exchanges the admin API key for a short-lived dashboard token.
// The route is mounted behind the admin middleware.
type AuthHandler struct {
	issuer TokenIssuer
	expiry time.Duration
	logger *logrus.Logger
}

type TokenRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthHandler(issuer TokenIssuer, expiry time.Duration, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{issuer: issuer, expiry: expiry, logger: logger}
}

// IssueToken serves POST /api/v1/auth/token. The body is optional; the
// default is a viewer token for the "dashboard" subject.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	req := TokenRequest{Subject: "dashboard", Role: middleware.RoleViewer}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.Subject == "" {
		req.Subject = "dashboard"
	}
	if req.Role == "" {
		req.Role = middleware.RoleViewer
	}
	if req.Role != middleware.RoleViewer && req.Role != middleware.RoleOperator {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
		return
	}

	token, expiresAt, err := h.issuer.GenerateToken(req.Subject, req.Role, h.expiry)
	if err != nil {
		middleware.RecordError(c, err, "token signing failed")
		h.logger.WithError(err).Error("Failed to issue dashboard token")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Token issuing is not available"})
		return
	}

	h.logger.WithFields(logrus.Fields{"subject": req.Subject, "role": req.Role}).Info("Issued dashboard token")
	c.JSON(http.StatusOK, TokenResponse{Token: token, Role: req.Role, ExpiresAt: expiresAt})
}

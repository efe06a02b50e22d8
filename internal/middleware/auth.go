package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in dashboard tokens.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Context keys set by RequireAuth.
const (
	ContextSubject = "auth_subject"
	ContextRole    = "auth_role"
)

// JWTClaims represents the JWT token claims.
type JWTClaims struct {
	// Role is either RoleViewer or RoleOperator.
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware provides JWT authentication middleware for the dashboard
// read endpoints and the event stream.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware.
//
// Parameters:
//
//	secretKey: Secret key for signing tokens.
//
// Returns:
//
//	*AuthMiddleware: Initialized middleware.
func NewAuthMiddleware(secretKey string) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

// Enabled reports whether a signing secret is configured. Development
// deployments may run without one, in which case read endpoints are open.
func (am *AuthMiddleware) Enabled() bool {
	return len(am.secretKey) > 0
}

// RequireAuth middleware validates JWT tokens.
// It accepts a Bearer token in the Authorization header, or a "token" query
// parameter for WebSocket upgrades where browsers cannot set headers.
//
// Returns:
//
//	gin.HandlerFunc: Gin handler.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}

		tokenString, problem := bearerToken(c)
		if problem != "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": problem})
			c.Abort()
			return
		}

		claims, err := am.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
				c.Abort()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// bearerToken returns the token, or a client-facing problem description.
func bearerToken(c *gin.Context) (token, problem string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, ""
		}
		return "", "Authorization header required"
	}

	// Check Bearer prefix (case-insensitive as per RFC 6750)
	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" || tokenParts[1] == "" {
		return "", "Invalid authorization header format"
	}
	return tokenParts[1], ""
}

// GenerateToken creates a new JWT token.
//
// Parameters:
//
//	subject: Who the token is issued to.
//	role: RoleViewer or RoleOperator.
//	duration: Token validity duration.
//
// Returns:
//
//	string: Signed token string.
//	time.Time: Expiry of the token.
//	error: Error if generation fails.
func (am *AuthMiddleware) GenerateToken(subject, role string, duration time.Duration) (string, time.Time, error) {
	if !am.Enabled() {
		return "", time.Time{}, errors.New("token signing secret is not configured")
	}

	now := am.now()
	expiresAt := now.Add(duration)
	claims := &JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(am.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns claims.
//
// Parameters:
//
//	tokenString: Token string to validate.
//
// Returns:
//
//	*JWTClaims: Token claims.
//	error: Error if validation fails.
func (am *AuthMiddleware) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return am.secretKey, nil
	}, jwt.WithTimeFunc(am.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

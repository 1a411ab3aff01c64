package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"ledger-core/internal/store/remote"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userContextKey = "UserID"

	// RoleAdmin is the role claim admin tokens must carry.
	RoleAdmin = "admin"
)

// UserClaims represents JWT claims for authenticated callers.
type UserClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID. Tokens are normally issued
// by the account service; this is used by tooling and tests.
func GenerateToken(userID, role, secret string, expiresAt time.Time) (string, error) {
	claims := UserClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// bearer extracts the token from the Authorization header, falling back to
// the token query parameter for websocket clients.
func bearer(c *gin.Context) (string, string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, "", true
		}
		return "", "MISSING_TOKEN", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "INVALID_AUTH_HEADER", false
	}
	return parts[1], "", true
}

func authenticate(c *gin.Context, secret string) (*UserClaims, bool) {
	tok, code, ok := bearer(c)
	if !ok {
		msg := "missing Authorization header"
		if code == "INVALID_AUTH_HEADER" {
			msg = "invalid Authorization header"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": code, "error": msg})
		return nil, false
	}
	claims, err := parseToken(tok, secret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_TOKEN",
			"error": "invalid or expired token",
		})
		return nil, false
	}
	return claims, true
}

// AuthMiddleware enforces JWT auth for user routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, secret)
		if !ok {
			return
		}
		c.Set(userContextKey, claims.UserID)
		c.Next()
	}
}

// AdminMiddleware accepts only tokens signed with the admin secret that carry
// the admin role.
func AdminMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, secret)
		if !ok {
			return
		}
		if claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "FORBIDDEN",
				"error": "admin role required",
			})
			return
		}
		c.Set(userContextKey, claims.UserID)
		c.Next()
	}
}

// ReplicationMiddleware guards the repository endpoints with a shared token.
func ReplicationMiddleware(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(remote.TokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid replication token",
			})
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	if v, ok := c.Get(userContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// identityContextKey is the gin context key holding the authenticated
// Identity.
const identityContextKey = "identity"

// JWTMiddleware validates a bearer token issued by the external identity
// provider and attaches the Identity to the request context. WebSocket
// upgrades, which cannot set headers from browsers, may pass the token as
// a query parameter instead.
func JWTMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, Error{Error: "unauthorized", Message: "Missing authorization token"})
			c.Abort()
			return
		}

		identity, err := ParseIdentityToken(tokenStr, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, Error{Error: "unauthorized", Message: "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(identityContextKey, identity)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// ParseIdentityToken verifies an HMAC-signed token and extracts the
// Identity claims.
func ParseIdentityToken(tokenStr, secret string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}
	name, _ := claims["name"].(string)
	avatar, _ := claims["avatar"].(string)

	return &Identity{ID: sub, DisplayName: name, AvatarURL: avatar}, nil
}

// IdentityFromContext returns the Identity set by JWTMiddleware.
func IdentityFromContext(c *gin.Context) (*Identity, bool) {
	value, exists := c.Get(identityContextKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*Identity)
	return identity, ok
}

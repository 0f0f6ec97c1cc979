package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/jwt"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

// TokenValidator validates an access token.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates JWT tokens locally with a shared-secret verifier.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the "token" query parameter that browsers use for websocket
// upgrades.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	return r.URL.Query().Get(TokenQueryKey)
}

// RequireAuth returns a Gin middleware that validates JWT tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing access token")
			return
		}

		claims, err := m.validator.Validate(token)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// DevIdentity is used when no secret is configured. It trusts the user_id
// and username query parameters and must only be enabled in development.
func DevIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query(UserIDKey)
		if userID == "" {
			userID = c.GetHeader("X-User-ID")
		}
		if userID == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing user_id")
			return
		}
		username := c.Query(UsernameKey)
		if username == "" {
			username = userID
		}
		c.Set(UserIDKey, userID)
		c.Set(UsernameKey, username)
		c.Next()
	}
}

// GetUserID returns the user ID stored by RequireAuth or DevIdentity.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername returns the username stored by RequireAuth or DevIdentity.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

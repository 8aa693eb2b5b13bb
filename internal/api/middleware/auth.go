package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"community-hub/internal/api/response"
	"community-hub/internal/model"
	"community-hub/internal/service"
)

const identityContextKey = "identity"

type TokenVerifier interface {
	Verify(token string) (*service.Identity, error)
}

func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity, ok := GetIdentity(c); ok && identity != nil {
			c.Next()
			return
		}

		tokenString := TokenFromRequest(c)
		if tokenString == "" || verifier == nil {
			response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		identity, err := verifier.Verify(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Fail(c, 401, response.ErrTokenExpired, "token expired")
			} else {
				response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			}
			c.Abort()
			return
		}

		c.Set(identityContextKey, identity)
		c.Next()
	}
}

func RequireRole(roles ...model.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(roles) == 0 {
			c.Next()
			return
		}

		identity, ok := GetIdentity(c)
		if !ok {
			response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}

		response.Fail(c, 403, response.ErrForbidden, "forbidden")
		c.Abort()
	}
}

func GetIdentity(c *gin.Context) (*service.Identity, bool) {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return nil, false
	}
	identity, ok := val.(*service.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// TokenFromRequest looks at the access cookie, then the bearer header, then
// the token query parameter used by websocket clients.
func TokenFromRequest(c *gin.Context) string {
	if cookieToken, err := c.Cookie("access_token"); err == nil && cookieToken != "" {
		return cookieToken
	}
	if token := bearerTokenFromRequest(c.GetHeader("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(c.Query("token"))
}

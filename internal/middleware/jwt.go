package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ContextKeyClaims is the Gin context key for JWT claims.
const ContextKeyClaims = "claims"

// RequireJWT authenticates the request and stores its claims in the context.
// A missing token answers TOKEN_REQUIRED, a bad one TOKEN_INVALID.
func RequireJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Debug().Err(err).Msg("Token rejected")
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the claims stored by RequireJWT, or nil.
func GetClaims(c *gin.Context) *service.Claims {
	val, _ := c.Get(ContextKeyClaims)
	claims, _ := val.(*service.Claims)
	return claims
}

// bearerToken reads the Authorization header, then the ?token= query parameter
// used by EventSource and browser WebSocket clients, which cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RequireRole checks that the JWT carries one of the given roles.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	code := response.ErrForbidden
	if len(roles) == 1 {
		switch roles[0] {
		case model.RoleCandidate:
			code = response.ErrCandidateAccessOnly
		case model.RoleProctor:
			code = response.ErrProctorAccessOnly
		}
	}

	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if !slices.Contains(roles, claims.Role) {
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}
		c.Next()
	}
}

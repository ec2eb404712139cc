package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/authgate/core"
)

// ClaimsKey is the gin context key holding *core.Claims after Require succeeds.
const ClaimsKey = "auth.claims"

func setClaims(c *gin.Context, claims *core.Claims) {
	c.Set(ClaimsKey, claims)
	c.Request = c.Request.WithContext(core.WithClaims(c.Request.Context(), claims))
}

// ClaimsFromGin returns the verified claims for the current request.
func ClaimsFromGin(c *gin.Context) (*core.Claims, bool) {
	if v, ok := c.Get(ClaimsKey); ok {
		if cl, ok := v.(*core.Claims); ok && cl != nil {
			return cl, true
		}
	}
	return core.ClaimsFromContext(c.Request.Context())
}

// Subject returns the sub claim, or "" when the request was not authorized.
func Subject(c *gin.Context) string {
	if cl, ok := ClaimsFromGin(c); ok {
		return cl.Subject
	}
	return ""
}

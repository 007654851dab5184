package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"telechat/module/identity"
	"telechat/tools/errs"
)

// context keys set by the middleware; handlers read the requester identity
// from these instead of trusting caller-supplied ids.
const (
	CtxIdentityID    = "identityId"
	CtxIdentityClass = "identityClass"
)

// Middleware verifies the request token and stores the resolved identity in
// the gin context. Token sources, in order: Authorization: Bearer,
// x-auth-token header, token query parameter.
func Middleware(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("x-auth-token"))
		if token == "" {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}

		id, class, err := resolver.Resolve(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.CodeOf(err))
			return
		}

		c.Set(CtxIdentityID, id)
		c.Set(CtxIdentityClass, class)
		c.Next()
	}
}

// IdentityFrom returns the requester ref the middleware stored.
func IdentityFrom(c *gin.Context) (identity.Ref, bool) {
	id, ok := c.Get(CtxIdentityID)
	if !ok {
		return identity.Ref{}, false
	}
	cls, ok := c.Get(CtxIdentityClass)
	if !ok {
		return identity.Ref{}, false
	}
	return identity.Ref{ID: id.(string), Class: cls.(identity.Class)}, true
}

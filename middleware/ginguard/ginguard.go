// Package ginguard mounts a middleware.Gate on a gin router.
package ginguard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/middleware"
)

// PrincipalKey is the gin context key holding the admitted *goGate.Principal.
const PrincipalKey = "gogate.principal"

// Guard returns gin middleware that authorizes every request through g.
// Rejected requests are aborted with the response g already wrote.
func Guard(g *middleware.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := g.Check(c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}
		c.Request = r
		if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
			c.Set(PrincipalKey, p)
		}
		c.Next()
	}
}

// Mount registers the login and logout surfaces on router and installs
// Guard for every route registered after it.
func Mount(router *gin.Engine, g *middleware.Gate) {
	form := g.Form()
	login := gin.WrapH(g.LoginHandler())
	logout := gin.WrapH(g.LogoutHandler())

	router.POST(form.LoginPath, login)
	router.POST(form.LogoutPath, logout)
	router.Use(Guard(g))
}

// Principal returns the principal Guard admitted the request for.
func Principal(c *gin.Context) (*goGate.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*goGate.Principal)
	return p, ok && p != nil
}

// RequirePrincipal aborts with 401 when no principal was admitted, for
// handlers on PermitAll paths that still need an identity.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Principal(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/clipbrief/clipbrief/internal/identity"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the authenticated user ID, set by the auth
	// gateway in front of this service. Trusted, never client-supplied.
	HeaderUserID = "X-Auth-User-Id"

	contextIdentityKey = "requester_identity"
)

// ResolveIdentity classifies the requester once per request and stashes the
// result for handlers. It never rejects; fail-closed handling happens in
// admission control.
func (s *Server) ResolveIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID snowflake.ID
		if raw := strings.TrimSpace(c.GetHeader(HeaderUserID)); raw != "" {
			if parsed, err := snowflake.ParseString(raw); err == nil {
				userID = parsed
			}
		}

		c.Set(contextIdentityKey, identity.Resolve(userID, c.Request.Header))
		c.Next()
	}
}

// RequireUser guards routes that only make sense for signed-in users.
func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requesterIdentity(c).Authenticated() {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func requesterIdentity(c *gin.Context) identity.Identity {
	if v, ok := c.Get(contextIdentityKey); ok {
		if id, ok := v.(identity.Identity); ok {
			return id
		}
	}
	return identity.Identity{Kind: identity.KindUnresolvable}
}

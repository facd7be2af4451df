package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Auth header names for the two shared tokens.
const (
	HeaderBotToken    = "X-Bot-Token"
	HeaderWorkerToken = "X-Worker-Token"
	HeaderWorkerID    = "X-Worker-Id"
	HeaderWorkerCaps  = "X-Worker-Caps"
)

// requireToken guards a route group with a shared bearer token carried in
// the given header. A missing configured secret is a server misconfiguration
// (500); a missing or wrong presented token is 401. The comparison is
// constant-time.
func requireToken(header, secret, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				ErrorResponse{Detail: role + " token not configured"})
			return
		}
		presented := c.GetHeader(header)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				ErrorResponse{Detail: "bad " + role + " token"})
			return
		}
		c.Next()
	}
}

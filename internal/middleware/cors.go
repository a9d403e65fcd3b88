package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Ingest-Key"
	corsMaxAge       = 24 * 60 * 60
)

// OriginPolicy decides which browser origins may call the API and open
// WebSockets. An empty list or "*" admits every origin.
type OriginPolicy struct {
	any     bool
	allowed map[string]bool
}

func NewOriginPolicy(origins []string) OriginPolicy {
	p := OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[o] = true
		}
	}
	if len(p.allowed) == 0 {
		p.any = true
	}
	return p
}

// Allows reports whether origin may talk to the API. Requests without an
// Origin header come from non-browser clients and are always allowed.
func (p OriginPolicy) Allows(origin string) bool {
	return origin == "" || p.any || p.allowed[origin]
}

// CheckRequest adapts the policy to websocket.Upgrader.CheckOrigin.
func (p OriginPolicy) CheckRequest(r *http.Request) bool {
	return p.Allows(r.Header.Get("Origin"))
}

// CORS sets CORS headers for allowed origins and answers preflights. A
// preflight from a foreign origin is refused with 403.
func CORS(policy OriginPolicy) gin.HandlerFunc {
	maxAge := strconv.Itoa(corsMaxAge)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if origin != "" && policy.Allows(origin) {
			if policy.any {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
		}
		if preflight {
			if !policy.Allows(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

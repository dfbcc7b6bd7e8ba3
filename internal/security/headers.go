// Package security provides HTTP hardening middleware for the Guardian API.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// extensionSchemes are browser-extension origins. The Guardian extension
// reaches the API from one of these, so they are always allowed.
var extensionSchemes = []string{"chrome-extension://", "moz-extension://", "safari-web-extension://"}

// HeadersMiddleware adds security headers to all responses. The API only
// serves JSON and metrics, so the CSP forbids everything.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// IsExtensionOrigin reports whether origin belongs to a browser extension.
func IsExtensionOrigin(origin string) bool {
	for _, scheme := range extensionSchemes {
		if strings.HasPrefix(origin, scheme) {
			return true
		}
	}
	return false
}

// CORSMiddleware handles CORS for API endpoints. Extension origins are
// always allowed; an empty allow-list admits any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool)
	for _, o := range allowedOrigins {
		originsMap[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if len(allowedOrigins) == 0 || originsMap[origin] || originsMap["*"] || IsExtensionOrigin(origin) {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Context-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupCORS configures CORS for the funnel frontends. Partner custom
// domains are not known up front, so "*" in allowedOrigins admits any
// origin.
func SetupCORS(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PUT", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Requested-With", "X-Request-ID", "X-API-Key",
		},
		ExposeHeaders: []string{
			"Content-Length", "X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}

	for _, o := range allowedOrigins {
		if strings.TrimSpace(o) == "*" {
			config.AllowAllOrigins = true
			return cors.New(config)
		}
	}
	config.AllowOrigins = allowedOrigins
	config.AllowCredentials = true
	return cors.New(config)
}

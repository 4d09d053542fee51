package handlers

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"quote-funnel-service/internal/config"
	"quote-funnel-service/internal/health"
	"quote-funnel-service/internal/middleware"
)

// Router groups everything the HTTP surface is built from
type Router struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Health   *health.HealthChecker
	Partners middleware.PartnerLookup
	Funnel   *FunnelHandler
	OTP      *OTPHandler
	Partner  *PartnerHandler
}

// Engine builds the gin engine with all routes
func (r *Router) Engine() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	if r.Config.Tracing.Enabled {
		router.Use(otelgin.Middleware(r.Config.Tracing.ServiceName))
	}
	router.Use(middleware.StructuredLogger(r.Logger))
	router.Use(middleware.Recovery(r.Logger))
	router.Use(health.MetricsMiddleware())
	router.Use(middleware.SetupCORS(r.Config.Server.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", "/livez", "/ready"})))

	// Health endpoints (no auth required)
	router.GET("/health", r.Health.HealthHandler)
	router.GET("/livez", r.Health.LivezHandler)
	router.GET("/ready", r.Health.ReadyzHandler)
	router.GET("/metrics", health.MetricsHandler())

	limiter := middleware.NewRateLimiter(r.Config.RateLimit.RequestsPerSecond, r.Config.RateLimit.Burst)

	// Public funnel routes, partner resolved from the host
	funnel := router.Group("/api/v1/funnel")
	funnel.Use(limiter.Handler())
	funnel.Use(middleware.PartnerResolution(r.Partners, r.Logger))
	{
		funnel.GET("/partner", r.Funnel.GetPartner)
		funnel.GET("/categories/:categoryId/questions", r.Funnel.ListQuestions)

		funnel.POST("/sessions", r.Funnel.StartSession)
		funnel.GET("/sessions/:sessionId", r.Funnel.GetSession)
		funnel.PUT("/sessions/:sessionId/answers", r.Funnel.SetAnswer)
		funnel.PUT("/sessions/:sessionId/address", r.Funnel.SelectAddress)
		funnel.PUT("/sessions/:sessionId/roof", r.Funnel.SaveRoofData)
		funnel.POST("/sessions/:sessionId/next", r.Funnel.Next)
		funnel.POST("/sessions/:sessionId/previous", r.Funnel.Previous)
		funnel.POST("/sessions/:sessionId/contact", r.Funnel.SubmitContact)

		funnel.GET("/sessions/:sessionId/otp", r.OTP.Status)
		funnel.POST("/sessions/:sessionId/otp/send", r.OTP.Send)
		funnel.POST("/sessions/:sessionId/otp/verify", r.OTP.Verify)
		funnel.POST("/sessions/:sessionId/otp/resend", r.OTP.Resend)

		funnel.PUT("/leads/:submissionId/selections", r.Funnel.UpdateSelections)
		funnel.POST("/beacon", r.Funnel.Beacon)
	}

	// Partner-facing routes (API key)
	partner := router.Group("/api/v1/partner")
	partner.Use(middleware.APIKeyAuth(r.Config.Security.APIKey))
	{
		partner.POST("/email/test", r.Partner.SendTestEmail)
	}

	return router
}

package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"quote-funnel-service/internal/models"
)

const partnerContextKey = "partner"

// PartnerLookup resolves a request hostname to a partner
type PartnerLookup interface {
	Resolve(ctx context.Context, hostname string) (*models.Partner, error)
}

// PartnerResolution resolves the partner owning the request host and stores
// it in the context. X-Forwarded-Host wins over Host. Reads without a
// partner pass through so handlers can render a neutral page; writes are
// rejected.
func PartnerResolution(resolver PartnerLookup, logger *logrus.Logger) gin.HandlerFunc {
	log := logger.WithField("component", "partner_resolution")
	return func(c *gin.Context) {
		host := c.GetHeader("X-Forwarded-Host")
		if host == "" {
			host = c.Request.Host
		}

		partner, err := resolver.Resolve(c.Request.Context(), host)
		if err != nil {
			log.WithError(err).WithField("host", host).Error("Partner resolution failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.APIResponse{
				Success: false,
				Message: "Partner lookup is unavailable",
				Error:   &models.APIError{Code: "PARTNER_LOOKUP_FAILED", Message: "Partner lookup is unavailable"},
			})
			return
		}

		if partner != nil {
			c.Set(partnerContextKey, partner)
			c.Next()
			return
		}

		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Message: "No partner is configured for this host",
			Error:   &models.APIError{Code: "PARTNER_NOT_FOUND", Message: "No partner is configured for this host"},
		})
	}
}

// PartnerFrom returns the partner resolved for the request
func PartnerFrom(c *gin.Context) (*models.Partner, bool) {
	v, ok := c.Get(partnerContextKey)
	if !ok {
		return nil, false
	}
	partner, ok := v.(*models.Partner)
	return partner, ok && partner != nil
}

// SetPartner stores a partner in the context
func SetPartner(c *gin.Context, partner *models.Partner) {
	c.Set(partnerContextKey, partner)
}

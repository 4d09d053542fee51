package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/repository"
	"quote-funnel-service/internal/services"
)

// PartnerHandler handles partner-facing routes behind the API key
type PartnerHandler struct {
	partners     *repository.PartnerRepository
	emailService *services.EmailService
}

// NewPartnerHandler creates a new partner handler
func NewPartnerHandler(partners *repository.PartnerRepository, emailService *services.EmailService) *PartnerHandler {
	return &PartnerHandler{
		partners:     partners,
		emailService: emailService,
	}
}

// SendTestEmail sends a test message through the partner's SMTP settings
func (h *PartnerHandler) SendTestEmail(c *gin.Context) {
	var req models.TestEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	partner, err := h.partners.GetByID(c.Request.Context(), uuid.MustParse(req.PartnerID))
	if err != nil {
		ServiceError(c, "Failed to load partner", err)
		return
	}
	if partner == nil {
		ServiceError(c, "Partner not found", services.ErrPartnerNotFound)
		return
	}

	if err := h.emailService.SendTestEmail(c.Request.Context(), partner, req.To); err != nil {
		if mapped(err) {
			ServiceError(c, "Failed to send test email", err)
			return
		}
		// SMTP dial/auth failures are configuration problems the partner can fix
		ErrorResponseWithCode(c, http.StatusBadRequest, "SMTP_TEST_FAILED", "Test email could not be sent", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Test email sent successfully", nil)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/services"
)

// OTPHandler handles the phone verification routes of a funnel session
type OTPHandler struct {
	otpService *services.OTPService
}

// NewOTPHandler creates a new OTP handler
func NewOTPHandler(otpService *services.OTPService) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
	}
}

// Status reports the verification state
func (h *OTPHandler) Status(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	resp, err := h.otpService.Status(c.Request.Context(), partner, c.Param("sessionId"))
	if err != nil {
		ServiceError(c, "Failed to load verification status", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Verification status retrieved successfully", resp)
}

// Send sends the first verification code. A provider failure is reported
// inline so the page can offer a retry.
func (h *OTPHandler) Send(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	resp, err := h.otpService.Send(c.Request.Context(), partner, c.Param("sessionId"))
	if err != nil {
		ServiceError(c, "Failed to send verification code", err)
		return
	}
	otpResponse(c, "Verification code sent successfully", resp)
}

// Resend sends another code once the cooldown has elapsed
func (h *OTPHandler) Resend(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	resp, err := h.otpService.Resend(c.Request.Context(), partner, c.Param("sessionId"))
	if err != nil {
		ServiceError(c, "Failed to resend verification code", err)
		return
	}
	otpResponse(c, "Verification code resent successfully", resp)
}

// Verify checks the typed code
func (h *OTPHandler) Verify(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	var req models.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.otpService.Verify(c.Request.Context(), partner, c.Param("sessionId"), req.Code)
	if err != nil {
		ServiceError(c, "Failed to verify code", err)
		return
	}

	if !resp.Verified {
		c.JSON(http.StatusOK, models.APIResponse{
			Success: false,
			Message: resp.Error,
			Data:    resp,
		})
		return
	}
	SuccessResponse(c, http.StatusOK, "Verification successful", resp)
}

func otpResponse(c *gin.Context, message string, resp *models.OTPStatusResponse) {
	if resp.Error != "" {
		c.JSON(http.StatusOK, models.APIResponse{
			Success: false,
			Message: resp.Error,
			Data:    resp,
		})
		return
	}
	SuccessResponse(c, http.StatusOK, message, resp)
}

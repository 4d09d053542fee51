package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quote-funnel-service/internal/funnel"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/services"
)

// SuccessResponse sends a success response
func SuccessResponse(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, models.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, status int, message string, err error) {
	ErrorResponseWithCode(c, status, "ERROR", message, err)
}

// ErrorResponseWithCode sends an error response with a machine readable code
func ErrorResponseWithCode(c *gin.Context, status int, code, message string, err error) {
	apiError := &models.APIError{
		Code:    code,
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(status, models.APIResponse{
		Success: false,
		Message: message,
		Error:   apiError,
	})
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var serviceErrors = []errorMapping{
	{services.ErrPartnerNotFound, http.StatusBadRequest, "PARTNER_NOT_FOUND", "No partner is configured for this host"},
	{services.ErrOTPDisabled, http.StatusBadRequest, "OTP_DISABLED", "Phone verification is not enabled"},
	{services.ErrSMTPNotConfigured, http.StatusBadRequest, "SMTP_NOT_CONFIGURED", "SMTP settings are not configured"},
	{services.ErrRoofMappingOff, http.StatusBadRequest, "ROOF_MAPPING_DISABLED", "Roof mapping is not part of this funnel"},
	{services.ErrCategoryNotFound, http.StatusNotFound, "CATEGORY_NOT_FOUND", "Service category not found"},
	{services.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "Funnel session not found"},
	{services.ErrQuestionNotFound, http.StatusNotFound, "QUESTION_NOT_FOUND", "Question not found"},
	{services.ErrLeadNotFound, http.StatusNotFound, "LEAD_NOT_FOUND", "Lead not found"},
	{services.ErrInvalidSelections, http.StatusBadRequest, "INVALID_SELECTIONS", "Product selections must be valid JSON"},
	{services.ErrLeadRequired, http.StatusConflict, "CONTACT_REQUIRED", "Contact details must be submitted first"},
	{services.ErrOTPSendInFlight, http.StatusConflict, "OTP_SEND_IN_FLIGHT", "A verification code is already being sent"},
	{services.ErrOTPNotSent, http.StatusConflict, "OTP_NOT_SENT", "No verification code has been sent"},
	{services.ErrSessionClosed, http.StatusConflict, "SESSION_COMPLETED", "This quote request is already complete"},
	{services.ErrInvalidOTPCode, http.StatusUnprocessableEntity, "INVALID_CODE", "Verification code has the wrong format"},
	{services.ErrLeadSaveFailed, http.StatusBadGateway, "LEAD_SAVE_FAILED", "We could not save your details, please try again"},
}

func mapped(err error) bool {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			return true
		}
	}
	return false
}

// ServiceError maps a service error onto the response envelope
func ServiceError(c *gin.Context, fallback string, err error) {
	var verr *funnel.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, models.APIResponse{
			Success: false,
			Message: "Please check the highlighted fields",
			Error: &models.APIError{
				Code:    "VALIDATION_FAILED",
				Message: "Please check the highlighted fields",
				Fields:  verr.Fields,
			},
		})
		return
	}

	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			ErrorResponseWithCode(c, m.status, m.code, m.message, nil)
			return
		}
	}

	_ = c.Error(err)
	ErrorResponse(c, http.StatusInternalServerError, fallback, nil)
}

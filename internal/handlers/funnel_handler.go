package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quote-funnel-service/internal/middleware"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/services"
)

// beacons are small; anything larger is not from the funnel
const maxBeaconBytes = 64 << 10

// FunnelHandler handles the public quote funnel routes
type FunnelHandler struct {
	funnelService *services.FunnelService
}

// NewFunnelHandler creates a new funnel handler
func NewFunnelHandler(funnelService *services.FunnelService) *FunnelHandler {
	return &FunnelHandler{
		funnelService: funnelService,
	}
}

// requirePartner writes PARTNER_NOT_FOUND when the host resolved to nobody
func requirePartner(c *gin.Context) (*models.Partner, bool) {
	partner, ok := middleware.PartnerFrom(c)
	if !ok {
		ServiceError(c, "No partner is configured for this host", services.ErrPartnerNotFound)
		return nil, false
	}
	return partner, true
}

// GetPartner returns the branding of the partner owning this host
func (h *FunnelHandler) GetPartner(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	SuccessResponse(c, http.StatusOK, "Partner retrieved successfully", models.NewPartnerView(partner))
}

// ListQuestions returns the active questions of a category
func (h *FunnelHandler) ListQuestions(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	categoryID, err := uuid.Parse(c.Param("categoryId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid category ID", err)
		return
	}

	questions, err := h.funnelService.ListQuestions(c.Request.Context(), partner, categoryID)
	if err != nil {
		ServiceError(c, "Failed to load questions", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Questions retrieved successfully", questions)
}

// StartSession opens a funnel session
func (h *FunnelHandler) StartSession(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.funnelService.StartSession(c.Request.Context(), partner, uuid.MustParse(req.ServiceCategoryID), req.DeviceInfo)
	if err != nil {
		ServiceError(c, "Failed to start session", err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "Session started", resp)
}

// GetSession returns the current funnel state
func (h *FunnelHandler) GetSession(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	resp, err := h.funnelService.GetSession(c.Request.Context(), partner, c.Param("sessionId"))
	if err != nil {
		ServiceError(c, "Failed to load session", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Session retrieved successfully", resp)
}

// SetAnswer records one answer and replans the steps
func (h *FunnelHandler) SetAnswer(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	var req models.SetAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.funnelService.SetAnswer(c.Request.Context(), partner, c.Param("sessionId"), req.QuestionID, req.Value)
	if err != nil {
		ServiceError(c, "Failed to save answer", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Answer saved", resp)
}

// SelectAddress records the address step
func (h *FunnelHandler) SelectAddress(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	var req models.Address
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.funnelService.SelectAddress(c.Request.Context(), partner, c.Param("sessionId"), req)
	if err != nil {
		ServiceError(c, "Failed to save address", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Address saved", resp)
}

// SaveRoofData records the roof mapping step
func (h *FunnelHandler) SaveRoofData(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	var req models.SaveRoofDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.funnelService.SaveRoofData(c.Request.Context(), partner, c.Param("sessionId"), req.RoofData, req.Image)
	if err != nil {
		ServiceError(c, "Failed to save roof data", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Roof data saved", resp)
}

// Next advances to the next active step
func (h *FunnelHandler) Next(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	resp, err := h.funnelService.Next(c.Request.Context(), partner, c.Param("sessionId"))
	if err != nil {
		ServiceError(c, "Failed to advance", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Step advanced", resp)
}

// Previous goes back one active step
func (h *FunnelHandler) Previous(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	resp, err := h.funnelService.Previous(c.Request.Context(), partner, c.Param("sessionId"))
	if err != nil {
		ServiceError(c, "Failed to go back", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Step moved back", resp)
}

// SubmitContact validates the contact form and creates the lead
func (h *FunnelHandler) SubmitContact(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	var req models.ContactDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	resp, err := h.funnelService.SubmitContact(c.Request.Context(), partner, c.Param("sessionId"), req)
	if err != nil {
		ServiceError(c, "Failed to submit contact details", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Contact details submitted", resp)
}

// UpdateSelections records product choices made after the funnel
func (h *FunnelHandler) UpdateSelections(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	submissionID, err := uuid.Parse(c.Param("submissionId"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid submission ID", err)
		return
	}
	var req models.UpdateSelectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	if err := h.funnelService.UpdateSelections(c.Request.Context(), partner, submissionID, req.Selections, req.Page); err != nil {
		ServiceError(c, "Failed to update selections", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Selections updated", nil)
}

// Beacon accepts navigator.sendBeacon payloads. Browsers send them as
// text/plain, so the body is decoded as JSON whatever the content type.
func (h *FunnelHandler) Beacon(c *gin.Context) {
	partner, ok := requirePartner(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBeaconBytes+1))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to read beacon", err)
		return
	}
	if len(body) > maxBeaconBytes {
		ErrorResponse(c, http.StatusRequestEntityTooLarge, "Beacon too large", nil)
		return
	}

	var req models.BeaconRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SessionID == "" {
		ErrorResponse(c, http.StatusBadRequest, "Invalid beacon payload", err)
		return
	}

	if err := h.funnelService.RecordBeacon(c.Request.Context(), partner, &req); err != nil {
		ServiceError(c, "Failed to record beacon", err)
		return
	}
	c.Status(http.StatusAccepted)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ProctoringHandler accepts the audit trail of running sessions.
type ProctoringHandler struct {
	proctoringService *service.ProctoringService
}

// NewProctoringHandler creates a new ProctoringHandler.
func NewProctoringHandler(proctoringService *service.ProctoringService) *ProctoringHandler {
	return &ProctoringHandler{proctoringService: proctoringService}
}

// LogActivity godoc
// POST /api/v1/proctoring/:attemptId/log
// Queues one suspicious activity. Delivery is best-effort for the caller.
func (h *ProctoringHandler) LogActivity(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseID(c, "attemptId")
	if !ok {
		return
	}

	var entry model.ActivityEntry
	if fields := validator.Bind(c, &entry); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.proctoringService.LogActivity(c.Request.Context(), attemptID, claims.CandidateID, &entry); err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

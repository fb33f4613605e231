package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// TestHandler serves the candidate-facing test API consumed by proctored sessions.
type TestHandler struct {
	testService    *service.TestService
	attemptService *service.AttemptService
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(testService *service.TestService, attemptService *service.AttemptService) *TestHandler {
	return &TestHandler{
		testService:    testService,
		attemptService: attemptService,
	}
}

// GetTest godoc
// GET /api/v1/tests/:id
// Returns the test paper from Redis (bypasses PostgreSQL once warmed).
func (h *TestHandler) GetTest(c *gin.Context) {
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), testID)
	if err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// Start godoc
// POST /api/v1/tests/:id/start
// Opens an attempt for the candidate (idempotent while unfinished).
func (h *TestHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), testID, claims.CandidateID)
	if err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.StartResponse{AttemptID: attempt.ID})
}

// SaveProgress godoc
// PUT /api/v1/tests/:id/progress
// Buffers the answer snapshot and queues it for persistence.
func (h *TestHandler) SaveProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req model.ProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SaveProgress(c.Request.Context(), testID, claims.CandidateID, &req); err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/tests/:id/submit
// Grades the attempt in RAM and queues the result for persistence.
func (h *TestHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), testID, claims.CandidateID, &req)
	if err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/attempts/:id/result
// Returns the results view data of a finished attempt.
func (h *TestHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.attemptService.Result(c.Request.Context(), attemptID, claims.CandidateID)
	if err != nil {
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// parseID reads a UUID path parameter and fails the request when it is malformed.
func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// failAttempt maps service errors onto the API error codes.
func failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrAttemptFinished):
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
	case errors.Is(err, service.ErrAttemptInProgress):
		response.Fail(c, http.StatusConflict, response.ErrAttemptInProgress)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

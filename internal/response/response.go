package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every REST endpoint answers with.
type Response struct {
	Data     any        `json:"data"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// ErrorBody carries a stable code the client branches on plus a readable message.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata ties a response to its request log line.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ─── Builders ────────────────────────────────────────────────────────────────

// Success sends data with the given status code.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, envelope(c, data, nil))
}

// Fail sends an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, envelope(c, nil, &ErrorBody{Code: code, Message: GetMessage(code)}))
}

// FailWithFields sends a validation error with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, envelope(c, nil, &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}))
}

// AbortFail stops the middleware chain with an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, envelope(c, nil, &ErrorBody{Code: code, Message: GetMessage(code)}))
}

func envelope(c *gin.Context, data any, body *ErrorBody) Response {
	if body != nil {
		c.Set(ContextKeyErrorCode, string(body.Code))
	}
	return Response{
		Data:  data,
		Error: body,
		Metadata: Metadata{
			RequestID: RequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// RequestID returns the ID assigned by RequestLogger, or a fresh one when the
// middleware is not installed.
func RequestID(c *gin.Context) string {
	if id := c.GetString(ContextKeyRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

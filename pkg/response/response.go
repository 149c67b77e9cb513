package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes shared by the HTTP and websocket surfaces.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyDecided     = "ALREADY_DECIDED"
	CodeTransformation     = "TRANSFORMATION_FAILED"
	CodeNoSpeech           = "NO_SPEECH"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Response represents a standard API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success sends a successful response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// Created sends a 201 created response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, code, message string) {
	ErrorWithData(c, statusCode, code, message, nil)
}

// ErrorWithData sends an error response that also carries data, such as
// the current state of a resource the caller conflicted with.
func ErrorWithData(c *gin.Context, statusCode int, code, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: false,
		Data:    data,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Conflict sends a 409 error response with the conflicting resource.
func Conflict(c *gin.Context, message string, current interface{}) {
	ErrorWithData(c, http.StatusConflict, CodeAlreadyDecided, message, current)
}

// Package handlers serves the trainer status API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/molgfn/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeAppError maps application errors to HTTP status codes.
func writeAppError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsCode(err, errors.CodeInvalidParam):
		status = http.StatusBadRequest
	case errors.IsCode(err, errors.CodeUnavailable):
		status = http.StatusServiceUnavailable
	}
	code := string(errors.GetCode(err))
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: msg})
}

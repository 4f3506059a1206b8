package errors

import (
	"fmt"
	"net/http"
)

// ServiceError represents a bridge error with an HTTP-like status code and a
// wire code string suitable for integration error responses.
type ServiceError struct {
	Code    int    `json:"code"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("code=%d, key=%s, message=%s", e.Code, e.Key, e.Message)
}

// New creates a new ServiceError
func New(code int, key, message string) *ServiceError {
	return &ServiceError{
		Code:    code,
		Key:     key,
		Message: message,
	}
}

// BadRequest creates a 400 error
func BadRequest(format string, args ...interface{}) *ServiceError {
	return New(http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf(format, args...))
}

// NotFound creates a 404 error
func NotFound(format string, args ...interface{}) *ServiceError {
	return New(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf(format, args...))
}

// NotYetImplemented creates a 501 error
func NotYetImplemented(format string, args ...interface{}) *ServiceError {
	return New(http.StatusNotImplemented, "NOT_IMPLEMENTED", fmt.Sprintf(format, args...))
}

// ServiceUnavailable creates a 503 error
func ServiceUnavailable(format string, args ...interface{}) *ServiceError {
	return New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", fmt.Sprintf(format, args...))
}

// NotConnected reports that the Home Assistant connection is down. It carries
// the same wire code as ServiceUnavailable but a fixed message.
func NotConnected() *ServiceError {
	return New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Home Assistant is not connected")
}

// Internal creates a 500 error
func Internal(format string, args ...interface{}) *ServiceError {
	return New(http.StatusInternalServerError, "ERROR", fmt.Sprintf(format, args...))
}

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	_, ok := err.(*ServiceError)
	return ok
}

// GetStatusCode returns the HTTP-like status code from an error
func GetStatusCode(err error) int {
	if svcErr, ok := err.(*ServiceError); ok {
		return svcErr.Code
	}
	return http.StatusInternalServerError
}

// GetKey returns the wire code string from an error
func GetKey(err error) string {
	if svcErr, ok := err.(*ServiceError); ok {
		return svcErr.Key
	}
	return "ERROR"
}

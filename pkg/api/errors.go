package api

import (
	"errors"
	"net/http"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/breaker"
	"helios-hq/helios/pkg/resolver"
)

// Public error types. Every error body carries exactly one of these.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypePermission     = "permission_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeInternal       = "internal_error"
)

// ErrorBody is the inner object of the public error envelope.
type ErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse is the public error envelope shared by every endpoint.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RequestError is returned by request parsing and carries the wire-level
// classification directly.
type RequestError struct {
	Message string
	Type    string
	Code    string
	Status  int
}

// Error implements error.
func (e *RequestError) Error() string { return e.Message }

// NewInvalidRequestError builds a 400-class request error.
func NewInvalidRequestError(message string) *RequestError {
	return &RequestError{
		Message: message,
		Type:    ErrTypeInvalidRequest,
		Status:  http.StatusBadRequest,
	}
}

// Classify maps an internal error to the public taxonomy: its wire type,
// machine code and HTTP status. Messages pass through untouched except
// that no internal detail beyond the adapter message is exposed.
func Classify(err error) (body ErrorBody, status int) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return ErrorBody{Message: reqErr.Message, Type: reqErr.Type, Code: reqErr.Code}, reqErr.Status
	}

	var notFound *resolver.ModelNotFoundError
	if errors.As(err, &notFound) {
		return ErrorBody{
			Message: notFound.Error(),
			Type:    ErrTypeInvalidRequest,
			Code:    "model_not_found",
		}, http.StatusNotFound
	}

	var open *breaker.OpenError
	if errors.As(err, &open) {
		return ErrorBody{
			Message: "no provider is currently available for this model",
			Type:    ErrTypeInternal,
			Code:    "circuit_open",
		}, http.StatusBadGateway
	}

	var adapterErr *adapters.AdapterError
	if errors.As(err, &adapterErr) {
		switch adapterErr.Kind {
		case adapters.KindAuth:
			return ErrorBody{Message: adapterErr.Message, Type: ErrTypeAuthentication}, http.StatusUnauthorized
		case adapters.KindRateLimit:
			return ErrorBody{Message: adapterErr.Message, Type: ErrTypeRateLimit}, http.StatusTooManyRequests
		case adapters.KindInvalidRequest:
			return ErrorBody{Message: adapterErr.Message, Type: ErrTypeInvalidRequest}, http.StatusBadRequest
		case adapters.KindCapability:
			return ErrorBody{
				Message: adapterErr.Message,
				Type:    ErrTypeInvalidRequest,
				Code:    "unsupported_capability",
			}, http.StatusBadRequest
		case adapters.KindTimeout:
			return ErrorBody{Message: adapterErr.Message, Type: ErrTypeInternal, Code: "upstream_timeout"}, http.StatusGatewayTimeout
		default:
			return ErrorBody{Message: adapterErr.Message, Type: ErrTypeInternal}, http.StatusBadGateway
		}
	}

	return ErrorBody{Message: "internal error", Type: ErrTypeInternal}, http.StatusInternalServerError
}

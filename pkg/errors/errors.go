// Package errors defines the error codes returned to API clients.
package errors

import (
	"fmt"
	"net/http"
)

// Code is a stable, client-facing error identifier.
type Code string

const (
	CodeInvalidParam     Code = "INVALID_PARAM"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeInvalidSide      Code = "INVALID_SIDE"
	CodeInvalidOrderType Code = "INVALID_ORDER_TYPE"
	CodeInvalidPrice     Code = "INVALID_PRICE"
	CodeInvalidQuantity  Code = "INVALID_QUANTITY"
	CodeInvalidExpiry    Code = "INVALID_EXPIRY"
	CodeOrderNotFound    Code = "ORDER_NOT_FOUND"
	CodeSystemBusy       Code = "SYSTEM_BUSY"
)

type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithRequestID returns a copy tagged with the request id.
func (e *Error) WithRequestID(requestID string) *Error {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

func isRetryable(code Code) bool {
	switch code {
	case CodeSystemBusy, CodeTimeout, CodeUnavailable:
		return true
	default:
		return false
	}
}

func httpStatus(code Code) int {
	switch code {
	case CodeInvalidParam, CodeInvalidRequest, CodeInvalidPrice, CodeInvalidQuantity,
		CodeInvalidSide, CodeInvalidOrderType, CodeInvalidExpiry:
		return http.StatusBadRequest
	case CodeNotFound, CodeOrderNotFound:
		return http.StatusNotFound
	case CodeUnavailable, CodeSystemBusy:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrOrderNotFound = New(CodeOrderNotFound, "order not found")
	ErrSystemBusy    = New(CodeSystemBusy, "system busy, please retry")
	ErrUnavailable   = New(CodeUnavailable, "matching engine unavailable")
)

package errors

import (
	"net/http"
	"testing"
)

func TestHTTPStatusAndRetryable(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeInvalidPrice, http.StatusBadRequest, false},
		{CodeOrderNotFound, http.StatusNotFound, false},
		{CodeSystemBusy, http.StatusServiceUnavailable, true},
		{CodeTimeout, http.StatusGatewayTimeout, true},
		{CodeInternal, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		err := New(tt.code, "x")
		if got := err.HTTPStatus(); got != tt.status {
			t.Fatalf("%s: status = %d, want %d", tt.code, got, tt.status)
		}
		if err.Retryable != tt.retryable {
			t.Fatalf("%s: retryable = %v, want %v", tt.code, err.Retryable, tt.retryable)
		}
	}
}

func TestWithRequestIDDoesNotMutateShared(t *testing.T) {
	tagged := ErrSystemBusy.WithRequestID("req-1")
	if tagged.RequestID != "req-1" {
		t.Fatalf("expected request id on copy")
	}
	if ErrSystemBusy.RequestID != "" {
		t.Fatalf("shared error was mutated")
	}
}

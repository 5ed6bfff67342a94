// Package response provides common HTTP response helpers.
package response

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/exchange/lob/pkg/errors"
	"github.com/exchange/lob/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// RequestIDFromRequest prefers the id stored by RequestIDMiddleware, then the header.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

// RequestIDMiddleware 确保每个请求都有 request id，并写回响应头
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), reqID)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware 捕获 handler panic，返回 500
func RecoveryMiddleware(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				log.Errorf("panic recovered", map[string]interface{}{
					"panic":     v,
					"requestId": RequestIDFromRequest(r),
					"stack":     string(debug.Stack()),
				})
				if !wrapped.wroteHeader {
					WriteError(wrapped, r, apperrors.New(apperrors.CodeInternal, "internal server error"))
				}
			}
		}()
		next.ServeHTTP(wrapped, r)
	})
}

// WriteError 按错误码对应的 HTTP 状态写出错误
func WriteError(w http.ResponseWriter, r *http.Request, err *apperrors.Error) {
	if err == nil {
		return
	}
	payload := err
	if reqID := RequestIDFromRequest(r); reqID != "" {
		payload = err.WithRequestID(reqID)
	}
	WriteJSON(w, payload.HTTPStatus(), payload)
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteText writes a plain body, used for CSV exports.
func WriteText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-time-awareness/internal/auth"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

type contextKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey contextKey = "request_id"

// CallerKey is the context key for the authenticated caller.
const CallerKey contextKey = "caller"

// logFieldsKey identifies request-scoped logging fields.
type logFieldsKey struct{}

// RequestIDMiddleware tags each request with an ID. A caller-supplied
// X-Request-ID is kept so logs line up with the host's.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID, or "" outside RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// LoggingMiddleware emits one structured record per request, enriched with
// fields handlers add through AddLogField.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := make(map[string]string)
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
			}
			for k, v := range fields {
				attrs = append(attrs, slog.String(k, v))
			}

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// AddLogField attaches a key/value to the request log record. No-op outside
// LoggingMiddleware or for an empty value.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}

// AddError attaches err to the request log record.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}

// TimeoutMiddleware bounds the request context. Handlers stop at the next
// context check; nothing is forcibly interrupted.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthMiddleware requires a valid bearer API key.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				writeError(w, domain.ErrAuthentication(err.Error()))
				return
			}

			caller, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				writeError(w, domain.ErrAuthentication("invalid API key").WithCode(domain.ErrorCodeInvalidAPIKey))
				return
			}

			AddLogField(r.Context(), "caller", caller.Description)
			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller returns the authenticated caller, or nil when auth is off.
func GetCaller(ctx context.Context) *auth.Caller {
	caller, _ := ctx.Value(CallerKey).(*auth.Caller)
	return caller
}

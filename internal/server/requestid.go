package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDStage assigns each request a fresh correlation id, stored in the
// request context and echoed in the X-Request-ID response header.
type RequestIDStage struct{}

func (RequestIDStage) Name() string { return "request_id" }

func (RequestIDStage) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	requestID := uuid.New().String()
	ctx := context.WithValue(r.Context(), requestIDKey, requestID)
	w.Header().Set("X-Request-ID", requestID)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// RequestID retrieves the request id from context. Returns an empty string
// if no request id is set.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

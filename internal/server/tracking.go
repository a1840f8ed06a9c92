package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// errorEnvelope is the stable JSON body every server-error response carries.
// The requestId matches the one in the corresponding error log event so
// operators can correlate a client report with server-side traces.
type errorEnvelope struct {
	RequestID    string `json:"requestId"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
}

const genericErrorMessage = "internal server error"

// TrackingStage measures each request and normalizes server errors. The
// response is buffered; on a 5xx status the body (which handlers populate
// with the failure message, see HandlerFunc) is replaced with the JSON error
// envelope and an error-severity event is logged. Any other response passes
// through unchanged with an info-severity event.
type TrackingStage struct {
	Logger *slog.Logger
}

func (s *TrackingStage) Name() string { return "tracking" }

func (s *TrackingStage) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	start := time.Now()
	requestID := RequestID(r.Context())
	method := r.Method
	path := r.URL.Path // query string deliberately excluded

	buf := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(buf, r)
	duration := time.Since(start)

	if buf.status < http.StatusInternalServerError {
		s.Logger.Info("request completed",
			slog.String("request_id", requestID),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", buf.status),
			slog.Duration("duration", duration),
		)
		buf.flush(nil)
		return
	}

	message := strings.TrimSpace(buf.body.String())
	if message == "" {
		// An inner handler produced a server error without a message. That is
		// a bug in the handler; keep the pipeline alive with a generic body.
		s.Logger.Error("server error response carries no error message",
			slog.String("request_id", requestID),
			slog.String("path", path),
		)
		message = genericErrorMessage
	}

	s.Logger.Error("request failed",
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", buf.status),
		slog.Duration("duration", duration),
		slog.String("error", message),
	)

	envelope, err := json.Marshal(errorEnvelope{
		RequestID:    requestID,
		Success:      false,
		ErrorMessage: message,
	})
	if err != nil {
		envelope = []byte(`{"success":false}`)
	}

	w.Header().Set("Content-Type", "application/json")
	buf.flush(envelope)
}

// bufferedWriter defers the status line and body so TrackingStage can rewrite
// a server-error response after the handler returns.
type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.status = code
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

// flush writes the recorded status and either the replacement body or the
// buffered one to the underlying writer.
func (b *bufferedWriter) flush(replacement []byte) {
	body := b.body.Bytes()
	if replacement != nil {
		body = replacement
	}
	b.ResponseWriter.Header().Set("Content-Length", strconv.Itoa(len(body)))
	b.ResponseWriter.WriteHeader(b.status)
	b.ResponseWriter.Write(body)
}

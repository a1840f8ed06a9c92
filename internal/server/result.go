package server

import (
	"encoding/json"
	"io"
	"net/http"
)

// Result is the structured outcome of a route handler: either a successful
// body or a failure with a status and a human-readable message. Handlers
// return it instead of smuggling error text through side channels; the
// tracking stage consumes the message when the status is a server error.
type Result struct {
	Status       int
	ContentType  string
	Body         []byte
	ErrorMessage string
}

// JSON is a successful result carrying a JSON body.
func JSON(status int, body []byte) *Result {
	return &Result{Status: status, ContentType: "application/json", Body: body}
}

// JSONValue marshals v as the body of a successful result.
func JSONValue(status int, v any) *Result {
	body, err := json.Marshal(v)
	if err != nil {
		return Fail(http.StatusInternalServerError, "failed to encode response: "+err.Error())
	}
	return JSON(status, body)
}

// Fail is a failed result. For server-error statuses the message becomes the
// errorMessage of the normalized envelope; for client errors it is returned
// as a small JSON error body directly.
func Fail(status int, message string) *Result {
	return &Result{Status: status, ErrorMessage: message}
}

// HandlerFunc is a route handler returning a structured Result. It adapts to
// http.Handler; server-error messages are written as the plain-text response
// body, which the tracking stage rewrites into the error envelope.
type HandlerFunc func(r *http.Request) *Result

func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := f(r)
	if res == nil {
		res = Fail(http.StatusInternalServerError, "handler returned no result")
	}

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}

	switch {
	case status >= http.StatusInternalServerError:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, res.ErrorMessage)
	case res.ErrorMessage != "":
		body, _ := json.Marshal(map[string]string{"error": res.ErrorMessage})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	default:
		if res.ContentType != "" {
			w.Header().Set("Content-Type", res.ContentType)
		}
		w.WriteHeader(status)
		w.Write(res.Body)
	}
}

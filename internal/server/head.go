package server

import "net/http"

// HeadStage serves HEAD requests through the GET handlers: the method is
// rewritten to GET before routing and the response body is discarded on the
// way out, preserving status and headers. Downstream stages and handlers
// never observe the original method.
type HeadStage struct{}

func (HeadStage) Name() string { return "head" }

func (HeadStage) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.Method != http.MethodHead {
		next.ServeHTTP(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.Method = http.MethodGet
	next.ServeHTTP(&discardBodyWriter{ResponseWriter: w}, r2)
}

// discardBodyWriter swallows the body while letting status and headers
// through.
type discardBodyWriter struct {
	http.ResponseWriter
}

func (d *discardBodyWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

package server

import "net/http"

// Stage is one step of the request pipeline. A stage receives the request
// and the rest of the pipeline as next; it may rewrite the request before
// calling next and inspect or rewrite the response after.
type Stage interface {
	// Name identifies the stage in logs and tests.
	Name() string
	Handle(w http.ResponseWriter, r *http.Request, next http.Handler)
}

// Pipeline is an ordered list of stages. The order is declared once at
// construction; Wrap composes the stages so the first listed stage is the
// outermost.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the declared order.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Wrap composes the pipeline around inner.
func (p *Pipeline) Wrap(inner http.Handler) http.Handler {
	h := inner
	for i := len(p.stages) - 1; i >= 0; i-- {
		stage := p.stages[i]
		next := h
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stage.Handle(w, r, next)
		})
	}
	return h
}

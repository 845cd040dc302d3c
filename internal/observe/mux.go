package observe

import (
	"net/http"
	"strings"

	"github.com/justinas/alice"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers routes so that each is traced under its own route name and
// runs behind a shared middleware chain.
type Mux struct {
	wrapped Multiplexer
	chain   alice.Chain
}

func NewMux(wrapped Multiplexer, chain alice.Chain) *Mux {
	return &Mux{
		wrapped: wrapped,
		chain:   chain,
	}
}

// Handle registers the handler. The trace handler is outermost so the span
// covers the whole chain.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	traced := otelhttp.NewHandler(
		mux.chain.Then(handler),
		RouteName(pattern),
		otelhttp.WithSpanNameFormatter(spanName),
	)

	mux.wrapped.Handle(pattern, traced)
}

func (mux *Mux) HandleFunc(pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

func spanName(route string, r *http.Request) string {
	return r.Method + " " + route
}

// RouteName strips a leading method from a ServeMux pattern, so that
// "GET /connect" is reported as "/connect".
func RouteName(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && isMethod(method) {
		return resource
	}
	return pattern
}

func isMethod(m string) bool {
	switch m {
	case http.MethodConnect, http.MethodDelete, http.MethodGet,
		http.MethodHead, http.MethodOptions, http.MethodPatch,
		http.MethodPost, http.MethodPut, http.MethodTrace:
		return true
	}
	return false
}

// Package httpx contains small HTTP helpers shared across handlers:
// JSON responses, a middleware chain, and token-bucket rate limiting.
package httpx

import "net/http"

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first listed runs outermost. Chain(h, a, b)
// is a(b(h)).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

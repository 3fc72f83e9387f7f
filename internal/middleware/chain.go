package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Middleware wraps an http.Handler with extra behavior.
type Middleware func(http.Handler) http.Handler

// Chain represents an ordered middleware stack.
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain.
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Set contains all configured middleware for composition.
type Set struct {
	RequestID Middleware
	Logging   Middleware
}

// NewSet builds the standard middleware with shared dependencies.
func NewSet(logger *logrus.Logger) Set {
	return Set{
		RequestID: NewRequestIDMiddleware(),
		Logging:   NewLoggingMiddleware(logger),
	}
}

// DefaultChain returns the chain applied to API endpoints.
func (s Set) DefaultChain() Chain {
	return New(
		s.RequestID,
		s.Logging,
	)
}

// HealthChain returns the chain for health endpoints. Probes hit these
// every few seconds, so access logging is skipped.
func (s Set) HealthChain() Chain {
	return New(
		s.RequestID,
	)
}

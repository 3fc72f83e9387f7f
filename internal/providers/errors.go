package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnknownProvider means the requested provider name has no
	// registered strategy. A configuration error, fatal for the request.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUpstreamTimeout means the upstream call exceeded its deadline.
	// Retriable within the fallback chain.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// UnsupportedContentError means the client sent a content part the selected
// provider has no native equivalent for. Never retried.
type UnsupportedContentError struct {
	Provider    string
	ContentType string
}

func (e *UnsupportedContentError) Error() string {
	return fmt.Sprintf("provider %s does not support %s content", e.Provider, e.ContentType)
}

// MalformedToolArgumentsError means a provider streamed tool-call argument
// fragments that do not concatenate to valid JSON. The raw buffer is kept
// for diagnosis. Never retried.
type MalformedToolArgumentsError struct {
	ToolID string
	Raw    string
}

func (e *MalformedToolArgumentsError) Error() string {
	return fmt.Sprintf("tool call %s produced malformed JSON arguments", e.ToolID)
}

// UpstreamError is a non-2xx reply from a provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Provider, e.StatusCode)
}

// Retriable reports whether the fallback dispatcher may try another
// provider after this error.
func (e *UpstreamError) Retriable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// Attempt records one failed provider try inside a fallback chain.
type Attempt struct {
	Provider string
	Err      error
}

// ExhaustedError means every provider in the chain failed with a retriable
// error.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return fmt.Sprintf("all providers exhausted after %d attempts: %s",
		len(e.Attempts), strings.Join(names, ", "))
}

// Retriable reports whether the fallback chain should advance past err.
func Retriable(err error) bool {
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retriable()
	}
	return false
}

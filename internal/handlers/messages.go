// Package handlers implements the HTTP surface of the relay. The main
// endpoint accepts Claude-style message requests and answers in the same
// schema whatever provider actually served them.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/openrelay/claude-relay/internal/config"
	"github.com/openrelay/claude-relay/internal/dispatch"
	"github.com/openrelay/claude-relay/internal/middleware"
	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/schema"
)

const maxRequestBody = 32 << 20

type MessagesHandler struct {
	config     *config.Manager
	dispatcher *dispatch.Dispatcher
	logger     *logrus.Logger
}

func NewMessagesHandler(config *config.Manager, dispatcher *dispatch.Dispatcher, logger *logrus.Logger) *MessagesHandler {
	return &MessagesHandler{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	var req schema.ClientRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	requestID := middleware.RequestID(r.Context())
	chain := h.config.Get().Routing.Chain()

	if req.Stream {
		h.serveStream(w, r, requestID, &req, chain)
		return
	}

	resp, err := h.dispatcher.Complete(r.Context(), requestID, &req, chain)
	if err != nil {
		status, errType := classifyError(err)
		h.writeError(w, status, errType, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WithError(err).Error("failed to write response")
	}
}

func (h *MessagesHandler) serveStream(w http.ResponseWriter, r *http.Request, requestID string, req *schema.ClientRequest, chain []string) {
	session, err := h.dispatcher.Stream(r.Context(), requestID, req, chain)
	if err != nil {
		status, errType := classifyError(err)
		h.writeError(w, status, errType, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range session.Events {
		if err := writeSSE(w, ev); err != nil {
			h.logger.WithError(err).Debug("client disconnected mid-stream")
			return
		}
		flusher.Flush()
	}

	if err := session.Err(); err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"provider":   session.Provider,
		}).WithError(err).Warn("stream terminated abnormally")
	}
}

// writeSSE frames one event in the named-event SSE form the client
// protocol requires.
func writeSSE(w http.ResponseWriter, ev schema.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// classifyError maps dispatch failures onto HTTP statuses. Client-side
// faults get 400; upstream exhaustion is 503 so callers can retry.
func classifyError(err error) (int, string) {
	var unsupported *providers.UnsupportedContentError
	var malformed *providers.MalformedToolArgumentsError
	var upstream *providers.UpstreamError
	var exhausted *providers.ExhaustedError

	switch {
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &malformed):
		return http.StatusBadGateway, "api_error"
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable, "overloaded_error"
	case errors.Is(err, providers.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "api_error"
	case errors.Is(err, providers.ErrUnknownProvider):
		return http.StatusInternalServerError, "api_error"
	case errors.As(err, &upstream):
		if upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
			return http.StatusBadRequest, "invalid_request_error"
		}
		return http.StatusBadGateway, "api_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func (h *MessagesHandler) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(schema.NewErrorResponse(errType, message)); err != nil {
		h.logger.WithError(err).Error("failed to write error response")
	}
}

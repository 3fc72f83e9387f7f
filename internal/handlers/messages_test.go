package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrelay/claude-relay/internal/config"
	"github.com/openrelay/claude-relay/internal/dispatch"
	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/providers/openai"
	"github.com/openrelay/claude-relay/internal/schema"
	"github.com/openrelay/claude-relay/internal/usage"
)

func newTestHandler(t *testing.T, upstreamURL string) *MessagesHandler {
	t.Helper()

	dir := t.TempDir()
	cfgYAML := fmt.Sprintf(`
routing:
  primary: openai
providers:
  openai:
    type: openai
    base_url: %s
    model: gpt-4o
`, upstreamURL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFilename), []byte(cfgYAML), 0o600))

	manager := config.NewManager(dir)
	_, err := manager.Load()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)

	registry := providers.NewRegistry()
	registry.Register("openai", openai.New(openai.Config{
		Name:    "openai",
		BaseURL: upstreamURL,
		Model:   "gpt-4o",
	}))

	reporter := usage.NewLogReporter(logrus.NewEntry(logger))
	t.Cleanup(reporter.Close)

	dispatcher := dispatch.New(registry, reporter, logrus.NewEntry(logger))
	return NewMessagesHandler(manager, dispatcher, logger)
}

func clientBody(stream bool) string {
	return fmt.Sprintf(`{
		"model": "claude-3",
		"max_tokens": 64,
		"stream": %t,
		"messages": [{"role": "user", "content": "Hello, world!"}]
	}`, stream)
}

func TestMessagesNonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Hi!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2}}`)
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(clientBody(false))))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp schema.ClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, schema.RoleAssistant, resp.Role)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hi!", resp.Content[0].Text)
	assert.Equal(t, schema.StopEndTurn, resp.StopReason)
	assert.Equal(t, schema.Usage{InputTokens: 9, OutputTokens: 2}, resp.Usage)
}

func TestMessagesStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(clientBody(true))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	wantOrder := []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	}
	pos := -1
	for _, marker := range wantOrder {
		next := strings.Index(body, marker)
		require.GreaterOrEqual(t, next, 0, "missing %q in stream", marker)
		assert.Greater(t, next, pos, "%q out of order", marker)
		pos = next
	}
	assert.Contains(t, body, `"text":"Hi"`)
	assert.Contains(t, body, `"text":"!"`)
	// Usage trailing behind the finish chunk reaches message_delta.
	assert.Contains(t, body, `"output_tokens":2`)
}

func TestMessagesValidationError(t *testing.T) {
	handler := newTestHandler(t, "http://unused.invalid")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"m","max_tokens":0,"messages":[{"role":"user","content":"hi"}]}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp schema.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "error", errResp.Type)
	assert.Equal(t, "invalid_request_error", errResp.Error.Type)
	assert.Contains(t, errResp.Error.Message, "max_tokens")
}

func TestMessagesMalformedJSON(t *testing.T) {
	handler := newTestHandler(t, "http://unused.invalid")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{not json`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t, "http://unused.invalid")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/messages", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMessagesUpstreamExhausted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(clientBody(false))))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var errResp schema.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "overloaded_error", errResp.Error.Type)
}

func TestMessagesUpstreamBadRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(clientBody(false))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"unsupported content", &providers.UnsupportedContentError{ContentType: "image"}, http.StatusBadRequest, "invalid_request_error"},
		{"malformed tool args", &providers.MalformedToolArgumentsError{ToolID: "t"}, http.StatusBadGateway, "api_error"},
		{"exhausted", &providers.ExhaustedError{}, http.StatusServiceUnavailable, "overloaded_error"},
		{"timeout", providers.ErrUpstreamTimeout, http.StatusGatewayTimeout, "api_error"},
		{"unknown provider", providers.ErrUnknownProvider, http.StatusInternalServerError, "api_error"},
		{"upstream 500", &providers.UpstreamError{StatusCode: 500}, http.StatusBadGateway, "api_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, errType := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, errType)
		})
	}
}

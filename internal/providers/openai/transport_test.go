package openai

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/schema"
)

func strategyFor(srv *httptest.Server) *Strategy {
	return New(Config{
		Name:    "openai",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o",
	})
}

func TestSendRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())

		fmt.Fprint(w, `{"choices":[{"message":{"content":"Hi!"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	s := strategyFor(srv)
	body, err := s.ConvertRequest(&schema.ClientRequest{
		Model:     "claude-3",
		MaxTokens: 64,
		Messages: []schema.Message{
			{Role: schema.RoleUser, Content: schema.ContentList{{Type: schema.ContentTypeText, Text: "hi"}}},
		},
	})
	require.NoError(t, err)

	raw, err := s.SendRequest(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", gjson.GetBytes(raw, "choices.0.message.content").String())
}

func TestSendRequestUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	s := strategyFor(srv)
	_, err := s.SendRequest(context.Background(), []byte(`{}`))

	var ue *providers.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusTooManyRequests, ue.StatusCode)
	assert.True(t, ue.Retriable())
	assert.Contains(t, ue.Body, "rate limited")
}

func TestSendRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := New(Config{Name: "openai", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := s.SendRequest(context.Background(), []byte(`{}`))

	require.ErrorIs(t, err, providers.ErrUpstreamTimeout)
	assert.True(t, providers.Retriable(err))
}

func TestSendRequestGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, `{"choices":[{"message":{"content":"zipped"},"finish_reason":"stop"}]}`)
		gz.Close()
	}))
	defer srv.Close()

	s := strategyFor(srv)
	raw, err := s.SendRequest(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "zipped", gjson.GetBytes(raw, "choices.0.message.content").String())
}

func drainStream(t *testing.T, es *providers.EventStream) ([]providers.ProviderEvent, error) {
	t.Helper()
	var events []providers.ProviderEvent
	for {
		ev, err := es.Next(context.Background())
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestStreamRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		assert.True(t, gjson.GetBytes(body, "stream_options.include_usage").Bool())

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s := strategyFor(srv)
	es, err := s.StreamRequest(context.Background(), []byte(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	defer es.Close()

	events, err := drainStream(t, es)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, providers.ProviderEvent{Key: "text", Kind: providers.KindText, Text: "Hi"}, events[0])
	assert.Equal(t, providers.ProviderEvent{Key: "text", Kind: providers.KindText, Text: "!"}, events[1])
	assert.Equal(t, "stop", events[2].Finish)
	require.NotNil(t, events[3].Usage)
	assert.Equal(t, schema.Usage{InputTokens: 9, OutputTokens: 2}, *events[3].Usage)
}

func TestStreamRequestToolCallFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"get_weather\",\"arguments\":\"{\\\"ci\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"ty\\\":\\\"Paris\\\"}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s := strategyFor(srv)
	es, err := s.StreamRequest(context.Background(), []byte(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	defer es.Close()

	events, err := drainStream(t, es)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "tool:0", events[0].Key)
	assert.Equal(t, providers.KindToolUse, events[0].Kind)
	assert.Equal(t, "call_1", events[0].ToolID)
	assert.Equal(t, "get_weather", events[0].ToolName)
	assert.Equal(t, "tool:0", events[1].Key)
	assert.Equal(t, events[0].Args+events[1].Args, `{"city":"Paris"}`)
	assert.Equal(t, "tool_calls", events[2].Finish)
}

func TestStreamRequestConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	s := strategyFor(srv)
	_, err := s.StreamRequest(context.Background(), []byte(`{}`))

	var ue *providers.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
	assert.True(t, providers.Retriable(err))
}

func TestStreamRequestEndsCleanlyWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	s := strategyFor(srv)
	es, err := s.StreamRequest(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	defer es.Close()

	events, err := drainStream(t, es)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "partial", events[0].Text)
}

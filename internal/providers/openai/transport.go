package openai

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/schema"
)

const maxSSELineSize = 1 << 20

func (s *Strategy) endpoint() string {
	return strings.TrimSuffix(s.baseURL, "/") + "/chat/completions"
}

// SendRequest performs the non-streaming upstream call.
func (s *Strategy) SendRequest(ctx context.Context, providerReq []byte) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.do(ctx, providerReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(decompressReader(resp))
	if err != nil {
		return nil, s.transportError(ctx, fmt.Errorf("read %s response: %w", s.name, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, s.upstreamError(resp.StatusCode, body)
	}
	return body, nil
}

// StreamRequest opens the streaming upstream call and hands back a lazy
// event sequence. The producer goroutine owns the response body.
func (s *Strategy) StreamRequest(ctx context.Context, providerReq []byte) (*providers.EventStream, error) {
	providerReq, err := sjson.SetBytes(providerReq, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("enable streaming on %s request: %w", s.name, err)
	}
	// Ask for the final usage chunk; providers that do not know the
	// option ignore it.
	providerReq, err = sjson.SetBytes(providerReq, "stream_options.include_usage", true)
	if err != nil {
		return nil, fmt.Errorf("set stream options on %s request: %w", s.name, err)
	}

	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	resp, err := s.do(ctx, providerReq)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(decompressReader(resp))
		resp.Body.Close()
		cancel()
		return nil, s.upstreamError(resp.StatusCode, body)
	}

	stream, sink := providers.NewEventStream(cancel)
	go s.consumeSSE(ctx, resp, sink)
	return stream, nil
}

func (s *Strategy) do(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.transportError(ctx, err)
	}
	return resp, nil
}

// transportError folds deadline expiry into the retriable timeout error.
func (s *Strategy) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", providers.ErrUpstreamTimeout, s.name)
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return fmt.Errorf("%s request failed: %w", s.name, err)
}

func (s *Strategy) upstreamError(status int, body []byte) error {
	message := gjson.GetBytes(body, "error.message").String()
	if message != "" {
		s.log.WithFields(map[string]any{"status": status, "message": message}).Warn("upstream error")
	}
	return &providers.UpstreamError{
		Provider:   s.name,
		StatusCode: status,
		Body:       string(body),
	}
}

// consumeSSE reads the provider's SSE lines, normalizes each data chunk
// and pushes the resulting events through the sink. Send blocks until the
// consumer pulls, so upstream reads pace themselves to the client.
func (s *Strategy) consumeSSE(ctx context.Context, resp *http.Response, sink *providers.EventSink) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(decompressReader(resp))
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sink.Close(nil)
			return
		}
		if !gjson.Valid(payload) {
			s.log.WithField("line", payload).Debug("skipping unparsable stream chunk")
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, ev := range s.normalizeChunk(chunk) {
			if !sink.Send(ctx, ev) {
				sink.Close(ctx.Err())
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		sink.Close(s.transportError(ctx, fmt.Errorf("stream interrupted: %w", err)))
		return
	}
	// Upstream closed without [DONE]; everything already delivered.
	sink.Close(nil)
}

// normalizeChunk maps one provider chunk to zero or more normalized
// events. Tool calls are keyed by their slot index, which OpenAI keeps
// stable across the fragments of one call.
func (s *Strategy) normalizeChunk(chunk chatResponse) []providers.ProviderEvent {
	var events []providers.ProviderEvent

	if len(chunk.Choices) == 0 {
		// Usage-only trailer emitted when include_usage is on.
		if chunk.Usage != nil {
			events = append(events, providers.ProviderEvent{Usage: convertUsage(chunk.Usage)})
		}
		return events
	}

	choice := chunk.Choices[0]
	if choice.Delta != nil {
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			events = append(events, providers.ProviderEvent{
				Key:  "text",
				Kind: providers.KindText,
				Text: *choice.Delta.Content,
			})
		}
		for _, tc := range choice.Delta.ToolCalls {
			slot := 0
			if tc.Index != nil {
				slot = *tc.Index
			}
			events = append(events, providers.ProviderEvent{
				Key:      "tool:" + strconv.Itoa(slot),
				Kind:     providers.KindToolUse,
				ToolID:   tc.ID,
				ToolName: tc.Function.Name,
				Args:     tc.Function.Arguments,
			})
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		events = append(events, providers.ProviderEvent{
			Finish: *choice.FinishReason,
			Usage:  convertUsage(chunk.Usage),
		})
	} else if chunk.Usage != nil {
		events = append(events, providers.ProviderEvent{Usage: convertUsage(chunk.Usage)})
	}

	return events
}

func convertUsage(u *chatUsage) *schema.Usage {
	if u == nil {
		return nil
	}
	return &schema.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
}

// decompressReader unwraps gzip and brotli response encodings.
func decompressReader(resp *http.Response) io.Reader {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		if r, err := gzip.NewReader(resp.Body); err == nil {
			return r
		}
	case "br":
		return brotli.NewReader(resp.Body)
	}
	return resp.Body
}

// Package openai implements the conversion strategy for OpenAI-compatible
// chat-completion providers (OpenAI itself, Grok, DeepSeek, Gemini's
// OpenAI-compatible endpoint, and similar).
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/schema"
)

// Config carries the per-provider settings a strategy instance needs.
type Config struct {
	// Name is the registry key, e.g. "openai", "grok", "deepseek".
	Name    string
	BaseURL string
	APIKey  string
	// Model is the upstream model the configured provider serves; it
	// replaces the client's model alias when set.
	Model   string
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// Strategy converts between the client schema and the OpenAI
// chat-completion wire format.
type Strategy struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	log     *logrus.Entry
}

// New builds a strategy instance for one configured provider.
func New(cfg Config) *Strategy {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Strategy{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  client,
		log:     log.WithField("provider", cfg.Name),
	}
}

func (s *Strategy) Name() string { return s.name }

// Model returns the configured upstream model name.
func (s *Strategy) Model() string { return s.model }

// Wire format structs. Opaque outside this package.

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	Tools       []chatTool     `json:"tools,omitempty"`
	ToolChoice  string         `json:"tool_choice,omitempty"`
	StreamOpts  *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string      `json:"type"`
	Function chatToolDef `json:"function"`
}

type chatToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
}

type chatChoice struct {
	Message      *chatOutMessage `json:"message"`
	Delta        *chatOutMessage `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatOutMessage struct {
	Content   *string         `json:"content"`
	ToolCalls []chatDeltaCall `json:"tool_calls"`
}

type chatDeltaCall struct {
	Index    *int         `json:"index"`
	ID       string       `json:"id"`
	Function chatFunction `json:"function"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ConvertRequest maps the client request into an OpenAI chat-completion
// request. Image content fails with UnsupportedContentError: the
// chat-completion text endpoint has no equivalent for it.
func (s *Strategy) ConvertRequest(req *schema.ClientRequest) ([]byte, error) {
	out := chatRequest{
		Model:       s.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	if req.System != "" {
		system := string(req.System)
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: &system})
	}

	for _, msg := range req.Messages {
		converted, err := s.convertMessage(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatToolDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  cleanJSONSchema(tool.InputSchema),
			},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}

	return json.Marshal(out)
}

// convertMessage flattens one client message into one or more wire
// messages: tool results become standalone "tool" role messages, assistant
// tool uses become tool_calls.
func (s *Strategy) convertMessage(msg schema.Message) ([]chatMessage, error) {
	var (
		text        string
		toolCalls   []chatToolCall
		toolResults []chatMessage
	)

	for _, part := range msg.Content {
		switch part.Type {
		case schema.ContentTypeText:
			if text != "" {
				text += "\n"
			}
			text += part.Text
		case schema.ContentTypeImage:
			return nil, &providers.UnsupportedContentError{
				Provider:    s.name,
				ContentType: schema.ContentTypeImage,
			}
		case schema.ContentTypeToolUse:
			args := string(part.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, chatToolCall{
				ID:   part.ID,
				Type: "function",
				Function: chatFunction{
					Name:      part.Name,
					Arguments: args,
				},
			})
		case schema.ContentTypeToolResult:
			content := flattenContent(part.Content)
			toolResults = append(toolResults, chatMessage{
				Role:       "tool",
				ToolCallID: part.ToolUseID,
				Content:    &content,
			})
		default:
			return nil, &providers.UnsupportedContentError{
				Provider:    s.name,
				ContentType: part.Type,
			}
		}
	}

	switch {
	case msg.Role == schema.RoleAssistant && len(toolCalls) > 0:
		out := chatMessage{Role: schema.RoleAssistant, ToolCalls: toolCalls}
		if text != "" {
			out.Content = &text
		}
		return []chatMessage{out}, nil
	case len(toolResults) > 0:
		return toolResults, nil
	default:
		return []chatMessage{{Role: msg.Role, Content: &text}}, nil
	}
}

// flattenContent reduces a tool result's nested content to plain text.
func flattenContent(parts schema.ContentList) string {
	text := ""
	for _, part := range parts {
		if part.Type != schema.ContentTypeText {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += part.Text
	}
	return text
}

// ConvertResponse maps a full provider response back into the client shape.
func (s *Strategy) ConvertResponse(raw []byte) (*schema.ClientResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", s.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s response has no choices", s.name)
	}

	choice := resp.Choices[0]
	message := choice.Message
	if message == nil {
		message = choice.Delta
	}
	if message == nil {
		return nil, fmt.Errorf("%s response choice has no message", s.name)
	}

	out := &schema.ClientResponse{
		ID:    newMessageID(),
		Type:  "message",
		Role:  schema.RoleAssistant,
		Model: s.model,
	}

	if message.Content != nil && *message.Content != "" {
		out.Content = append(out.Content, schema.ContentPart{
			Type: schema.ContentTypeText,
			Text: *message.Content,
		})
	}

	for _, tc := range message.ToolCalls {
		input := tc.Function.Arguments
		if input == "" || !gjson.Valid(input) {
			if input != "" {
				s.log.WithField("tool", tc.Function.Name).Warn("discarding unparsable tool arguments")
			}
			input = "{}"
		}
		id := tc.ID
		if id == "" {
			id = newToolID()
		}
		out.Content = append(out.Content, schema.ContentPart{
			Type:  schema.ContentTypeToolUse,
			ID:    id,
			Name:  tc.Function.Name,
			Input: json.RawMessage(input),
		})
	}

	if len(out.Content) == 0 {
		out.Content = []schema.ContentPart{{Type: schema.ContentTypeText, Text: ""}}
	}

	if choice.FinishReason != nil {
		out.StopReason = s.MapStopReason(*choice.FinishReason)
	} else {
		out.StopReason = schema.StopEndTurn
	}

	if resp.Usage != nil {
		out.Usage = schema.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	} else {
		s.log.Warn("provider response omitted usage, defaulting to zero")
	}

	return out, nil
}

// MapStopReason translates an OpenAI finish reason into a client stop
// reason. Unknown reasons map to end_turn rather than inventing new
// client-facing values.
func (s *Strategy) MapStopReason(finish string) schema.StopReason {
	switch finish {
	case "stop", "", "null":
		return schema.StopEndTurn
	case "length":
		return schema.StopMaxTokens
	case "tool_calls", "function_call":
		return schema.StopToolUse
	default:
		s.log.WithField("finish_reason", finish).Warn("unknown finish reason, mapping to end_turn")
		return schema.StopEndTurn
	}
}

// cleanJSONSchema strips JSON Schema keywords the chat-completion tool
// schema rejects, recursing through properties and items.
func cleanJSONSchema(s map[string]any) map[string]any {
	if s == nil {
		return nil
	}
	cleaned := make(map[string]any, len(s))
	for key, value := range s {
		if _, drop := unsupportedSchemaFields[key]; drop {
			continue
		}
		cleaned[key] = cleanSchemaValue(key, value)
	}
	return cleaned
}

func cleanSchemaValue(key string, value any) any {
	switch v := value.(type) {
	case map[string]any:
		if key == "properties" {
			props := make(map[string]any, len(v))
			for name, sub := range v {
				if m, ok := sub.(map[string]any); ok {
					props[name] = cleanJSONSchema(m)
				} else {
					props[name] = sub
				}
			}
			return props
		}
		return cleanJSONSchema(v)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				items[i] = cleanJSONSchema(m)
			} else {
				items[i] = item
			}
		}
		return items
	default:
		return value
	}
}

var unsupportedSchemaFields = map[string]struct{}{
	"$schema": {}, "additionalProperties": {}, "exclusiveMinimum": {},
	"exclusiveMaximum": {}, "$id": {}, "$ref": {}, "$defs": {},
	"definitions": {}, "if": {}, "then": {}, "else": {}, "allOf": {},
	"anyOf": {}, "oneOf": {}, "not": {}, "propertyNames": {},
	"patternProperties": {}, "unevaluatedProperties": {},
	"unevaluatedItems": {}, "const": {}, "contentEncoding": {},
	"contentMediaType": {}, "dependentRequired": {}, "dependentSchemas": {},
}

func newMessageID() string {
	return "msg_" + shortUUID()
}

func newToolID() string {
	return "toolu_" + shortUUID()
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// StopReason is the client-facing terminal reason of a response.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopError     StopReason = "error"
)

// ClientRequest is an inbound message-creation request in the fixed
// client schema. Provider-specific shapes are derived from it, never the
// other way around.
type ClientRequest struct {
	Model         string       `json:"model"`
	MaxTokens     int          `json:"max_tokens"`
	Messages      []Message    `json:"messages"`
	System        SystemPrompt `json:"system,omitempty"`
	Tools         []Tool       `json:"tools,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
}

// Validate enforces the structural invariants of the client schema.
func (r *ClientRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if r.MaxTokens < 1 {
		return errors.New("max_tokens must be at least 1")
	}
	seen := make(map[string]struct{}, len(r.Tools))
	for _, tool := range r.Tools {
		if tool.Name == "" {
			return errors.New("tool name must not be empty")
		}
		if _, dup := seen[tool.Name]; dup {
			return fmt.Errorf("duplicate tool name: %s", tool.Name)
		}
		seen[tool.Name] = struct{}{}
	}
	for i, msg := range r.Messages {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return fmt.Errorf("messages[%d]: invalid role %q", i, msg.Role)
		}
	}
	return nil
}

// Message is one turn of the conversation. Content always normalizes to a
// list of parts, even when the wire form was a bare string.
type Message struct {
	Role    string      `json:"role"`
	Content ContentList `json:"content"`
}

// ContentList accepts both the shorthand string form and the block-array
// form the client schema allows.
type ContentList []ContentPart

func (c *ContentList) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = ContentList{{Type: ContentTypeText, Text: text}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	*c = parts
	return nil
}

// ContentPart is one tagged content block. Type selects which of the
// remaining fields are meaningful.
type ContentPart struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   ContentList `json:"content,omitempty"`
	IsError   *bool       `json:"is_error,omitempty"`
}

// ImageSource carries an encoded image payload.
type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// SystemPrompt accepts either a plain string or a list of text blocks and
// flattens to a single string.
type SystemPrompt string

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = SystemPrompt(text)
		return nil
	}

	var blocks []ContentPart
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or an array of text blocks: %w", err)
	}
	joined := ""
	for _, block := range blocks {
		if block.Type != ContentTypeText {
			continue
		}
		if joined != "" {
			joined += "\n"
		}
		joined += block.Text
	}
	*s = SystemPrompt(joined)
	return nil
}

// Tool declares a callable function the model may invoke.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Usage is the token accounting attached to a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClientResponse is the client-shaped reply for a non-streaming request,
// and also the message envelope inside the message_start stream event.
type ClientResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Model        string        `json:"model,omitempty"`
	Content      []ContentPart `json:"content"`
	StopReason   StopReason    `json:"stop_reason,omitempty"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        Usage         `json:"usage"`
}

// ErrorResponse is the client-shaped error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"` // always "error"
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error class alongside a human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds the standard error envelope.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    errType,
			Message: message,
		},
	}
}

package tokencount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openrelay/claude-relay/internal/schema"
)

func TestEstimateMonotone(t *testing.T) {
	short := Estimate("hello")
	long := Estimate("hello there, this is a much longer sentence with many more words")

	if short == 0 {
		t.Skip("cl100k_base encoding unavailable")
	}
	assert.Greater(t, long, short)
}

func TestEstimateRequestCoversAllTextSources(t *testing.T) {
	base := &schema.ClientRequest{
		Model:     "m",
		MaxTokens: 1,
		Messages: []schema.Message{
			{Role: schema.RoleUser, Content: schema.ContentList{{Type: schema.ContentTypeText, Text: "question"}}},
		},
	}
	baseCount := EstimateRequest(base)
	if baseCount == 0 {
		t.Skip("cl100k_base encoding unavailable")
	}

	richer := &schema.ClientRequest{
		Model:     "m",
		MaxTokens: 1,
		System:    "long system prompt with instructions",
		Messages: []schema.Message{
			{Role: schema.RoleUser, Content: schema.ContentList{{Type: schema.ContentTypeText, Text: "question"}}},
			{Role: schema.RoleAssistant, Content: schema.ContentList{{
				Type: schema.ContentTypeToolUse, ID: "t1", Name: "lookup",
				Input: json.RawMessage(`{"query":"weather in Paris tomorrow"}`),
			}}},
			{Role: schema.RoleUser, Content: schema.ContentList{{
				Type: schema.ContentTypeToolResult, ToolUseID: "t1",
				Content: schema.ContentList{{Type: schema.ContentTypeText, Text: "18C and sunny all day"}},
			}}},
		},
	}

	assert.Greater(t, EstimateRequest(richer), baseCount)
}

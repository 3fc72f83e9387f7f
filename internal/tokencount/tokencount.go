// Package tokencount estimates token counts locally for providers that
// omit usage accounting from their responses.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/openrelay/claude-relay/internal/schema"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

// Estimate counts tokens in text with the cl100k_base encoding. It
// returns 0 when the encoding cannot be loaded; estimation stays
// best-effort.
func Estimate(text string) int {
	once.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding == nil {
		return 0
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateRequest approximates the input token count of a client request
// from its system prompt and textual message content.
func EstimateRequest(req *schema.ClientRequest) int {
	text := string(req.System)
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Type {
			case schema.ContentTypeText:
				text += "\n" + part.Text
			case schema.ContentTypeToolUse:
				text += "\n" + string(part.Input)
			case schema.ContentTypeToolResult:
				for _, nested := range part.Content {
					if nested.Type == schema.ContentTypeText {
						text += "\n" + nested.Text
					}
				}
			}
		}
	}
	return Estimate(text)
}

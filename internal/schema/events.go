package schema

// Stream event type names. These double as the SSE event names on the
// wire, so they must match the serialized "type" field exactly.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"

	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// StreamEvent is one client-facing streaming event. Type selects which of
// the optional fields are populated; Index is a pointer so a block index of
// zero survives serialization.
type StreamEvent struct {
	Type         string          `json:"type"`
	Message      *ClientResponse `json:"message,omitempty"`
	Index        *int            `json:"index,omitempty"`
	ContentBlock *ContentPart    `json:"content_block,omitempty"`
	Delta        *EventDelta     `json:"delta,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// EventDelta carries the incremental payload of a content_block_delta or
// the terminal fields of a message_delta.
type EventDelta struct {
	Type        string     `json:"type,omitempty"`
	Text        string     `json:"text,omitempty"`
	PartialJSON string     `json:"partial_json,omitempty"`
	StopReason  StopReason `json:"stop_reason,omitempty"`

	// Never populated: stop sequences are not bridged from upstream
	// providers, so the field is omitted from every serialized delta.
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// MessageStartEvent opens the stream with an empty assistant message shell.
func MessageStartEvent(messageID, model string, usage Usage) StreamEvent {
	return StreamEvent{
		Type: EventMessageStart,
		Message: &ClientResponse{
			ID:      messageID,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   model,
			Content: []ContentPart{},
			Usage:   usage,
		},
	}
}

// TextBlockStartEvent opens a text content block at the given index.
func TextBlockStartEvent(index int) StreamEvent {
	return StreamEvent{
		Type:         EventContentBlockStart,
		Index:        &index,
		ContentBlock: &ContentPart{Type: ContentTypeText},
	}
}

// ToolBlockStartEvent opens a tool_use content block at the given index.
func ToolBlockStartEvent(index int, toolID, toolName string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockStart,
		Index: &index,
		ContentBlock: &ContentPart{
			Type:  ContentTypeToolUse,
			ID:    toolID,
			Name:  toolName,
			Input: []byte("{}"),
		},
	}
}

// TextDeltaEvent appends a text fragment to an open block.
func TextDeltaEvent(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: &EventDelta{Type: DeltaTypeText, Text: text},
	}
}

// InputJSONDeltaEvent appends a tool-argument fragment to an open block.
func InputJSONDeltaEvent(index int, partial string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: &EventDelta{Type: DeltaTypeInputJSON, PartialJSON: partial},
	}
}

// BlockStopEvent closes the block at the given index.
func BlockStopEvent(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: &index}
}

// MessageDeltaEvent carries the final stop reason and usage totals.
func MessageDeltaEvent(reason StopReason, usage Usage) StreamEvent {
	u := usage
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: &EventDelta{StopReason: reason},
		Usage: &u,
	}
}

// MessageStopEvent terminates a successful stream.
func MessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

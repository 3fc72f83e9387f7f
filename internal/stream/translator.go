// Package stream holds the streaming translation state machine: it turns
// a provider's normalized event sequence into the client's ordered stream
// event sequence, bridging granularity and indexing mismatches between the
// two protocols.
package stream

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/schema"
)

// FinishMapper translates a provider-native finish reason into a client
// stop reason. Supplied by the strategy that opened the stream, so the
// mapping table stays per-provider.
type FinishMapper func(string) schema.StopReason

// Translator converts provider events into client stream events for one
// request. It is owned by exactly one goroutine and never reused.
type Translator struct {
	messageID string
	model     string
	mapFinish FinishMapper
	log       *logrus.Entry

	started   bool
	finishing bool
	finish    string
	done      bool
	failed    bool
	nextIndex int
	blocks    map[string]*blockState
	order     []string
	usage     schema.Usage
}

// blockState tracks one content block from Start to Stop.
type blockState struct {
	index  int
	kind   providers.EventKind
	toolID string
	args   strings.Builder
	closed bool
}

// New builds a translator for one streamed request.
func New(messageID, model string, mapFinish FinishMapper, log *logrus.Entry) *Translator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Translator{
		messageID: messageID,
		model:     model,
		mapFinish: mapFinish,
		log:       log,
		blocks:    make(map[string]*blockState),
	}
}

// Translate consumes one provider event and returns the client events it
// expands to. A finish event closes the open blocks but holds the terminal
// message_delta and message_stop: providers can trail usage totals behind
// the finish chunk, so the caller keeps draining and calls Finalize once
// the provider stream ends. A MalformedToolArgumentsError fails the whole
// request: the caller must stop feeding events and must not emit
// message_stop.
func (t *Translator) Translate(ev providers.ProviderEvent) ([]schema.StreamEvent, error) {
	if t.done || t.failed {
		return nil, nil
	}

	var out []schema.StreamEvent
	if !t.started {
		out = append(out, schema.MessageStartEvent(t.messageID, t.model, schema.Usage{}))
		t.started = true
	}

	if ev.Usage != nil {
		t.mergeUsage(*ev.Usage)
	}

	if ev.Finish != "" {
		if t.finishing {
			return out, nil
		}
		closes, err := t.closeAllOpen()
		if err != nil {
			t.failed = true
			return out, err
		}
		out = append(out, closes...)
		t.finishing = true
		t.finish = ev.Finish
		return out, nil
	}

	if t.finishing || ev.Key == "" {
		return out, nil
	}

	block, opened := t.ensureBlock(ev)
	out = append(out, opened...)
	if block == nil {
		return out, nil
	}

	switch ev.Kind {
	case providers.KindText:
		if ev.Text != "" {
			out = append(out, schema.TextDeltaEvent(block.index, ev.Text))
		}
	case providers.KindToolUse:
		if ev.Args != "" {
			block.args.WriteString(ev.Args)
			out = append(out, schema.InputJSONDeltaEvent(block.index, ev.Args))
		}
	}

	if ev.Closed {
		stop, err := t.closeBlock(block)
		if err != nil {
			t.failed = true
			return out, err
		}
		out = append(out, stop...)
	}

	return out, nil
}

// ensureBlock looks up or opens the block for the event's key, assigning
// the next client index on first appearance. Indices are never reused or
// reordered within a request. Content arriving for an already-closed key
// (text resuming after a tool call, for instance) opens a fresh block at
// the next index instead of being dropped.
func (t *Translator) ensureBlock(ev providers.ProviderEvent) (*blockState, []schema.StreamEvent) {
	if block, ok := t.blocks[ev.Key]; ok {
		if !block.closed {
			return block, nil
		}
		t.log.WithField("key", ev.Key).Debug("reopening closed key as a new block")
	}

	var out []schema.StreamEvent

	// A new key supersedes any open text block; interleaved tool-call
	// blocks stay open and are tracked independently.
	for _, key := range t.order {
		open := t.blocks[key]
		if !open.closed && open.kind == providers.KindText && key != ev.Key {
			out = append(out, schema.BlockStopEvent(open.index))
			open.closed = true
		}
	}

	block := &blockState{
		index: t.nextIndex,
		kind:  ev.Kind,
	}
	t.nextIndex++
	t.blocks[ev.Key] = block
	t.order = append(t.order, ev.Key)

	switch ev.Kind {
	case providers.KindToolUse:
		block.toolID = ev.ToolID
		if block.toolID == "" {
			block.toolID = "toolu_" + strings.ReplaceAll(ev.Key, ":", "_")
		}
		out = append(out, schema.ToolBlockStartEvent(block.index, block.toolID, ev.ToolName))
	default:
		out = append(out, schema.TextBlockStartEvent(block.index))
	}

	return block, out
}

// closeBlock emits the Stop for one block. Tool blocks first validate that
// their buffered argument fragments concatenate to complete JSON.
func (t *Translator) closeBlock(block *blockState) ([]schema.StreamEvent, error) {
	if block.closed {
		return nil, nil
	}
	if block.kind == providers.KindToolUse {
		args := block.args.String()
		if args != "" && !gjson.Valid(args) {
			t.log.WithFields(logrus.Fields{
				"tool_id": block.toolID,
				"raw":     args,
			}).Error("buffered tool arguments are not valid JSON")
			return nil, &providers.MalformedToolArgumentsError{
				ToolID: block.toolID,
				Raw:    args,
			}
		}
	}
	block.closed = true
	return []schema.StreamEvent{schema.BlockStopEvent(block.index)}, nil
}

// closeAllOpen closes every still-open block in index order, enforcing the
// one-Stop-per-Start invariant even when the provider skipped individual
// closures.
func (t *Translator) closeAllOpen() ([]schema.StreamEvent, error) {
	var out []schema.StreamEvent
	for _, key := range t.order {
		stop, err := t.closeBlock(t.blocks[key])
		if err != nil {
			return nil, err
		}
		out = append(out, stop...)
	}
	return out, nil
}

// Abort closes whatever blocks can be closed cleanly after a mid-stream
// transport failure. It never emits message_stop: its absence is the
// failure signal the client side checks for.
func (t *Translator) Abort() []schema.StreamEvent {
	t.failed = true
	var out []schema.StreamEvent
	for _, key := range t.order {
		block := t.blocks[key]
		if block.closed {
			continue
		}
		if block.kind == providers.KindToolUse {
			if args := block.args.String(); args != "" && !gjson.Valid(args) {
				continue
			}
		}
		block.closed = true
		out = append(out, schema.BlockStopEvent(block.index))
	}
	return out
}

// Finalize emits the terminal message_delta and message_stop once the
// provider stream has drained. Usage trailers arriving after the finish
// chunk have been merged by then, so the totals here are final. It
// returns nil when no finish event was seen or the request failed.
func (t *Translator) Finalize() []schema.StreamEvent {
	if !t.finishing || t.done || t.failed {
		return nil
	}
	t.done = true
	return []schema.StreamEvent{
		schema.MessageDeltaEvent(t.mapFinish(t.finish), t.usage),
		schema.MessageStopEvent(),
	}
}

func (t *Translator) mergeUsage(u schema.Usage) {
	if u.InputTokens > 0 {
		t.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		t.usage.OutputTokens = u.OutputTokens
	}
}

// Done reports whether message_stop has been emitted.
func (t *Translator) Done() bool { return t.done }

// Finishing reports whether the provider's finish event has been seen.
func (t *Translator) Finishing() bool { return t.finishing }

// Started reports whether message_start has been emitted.
func (t *Translator) Started() bool { return t.started }

// Usage returns the running usage totals.
func (t *Translator) Usage() schema.Usage { return t.usage }

package providers

import (
	"context"
	"io"

	"github.com/openrelay/claude-relay/internal/schema"
)

// Strategy converts between the client schema and one provider's wire
// schema. Provider request and response payloads are raw bytes, opaque to
// everything but the owning strategy.
type Strategy interface {
	// Name is the registry key for this provider.
	Name() string

	// ConvertRequest maps a client request into the provider's request
	// shape. Content the provider cannot represent fails with
	// UnsupportedContentError.
	ConvertRequest(req *schema.ClientRequest) ([]byte, error)

	// ConvertResponse maps a full provider response back into the client
	// shape, including stop reason and usage mapping.
	ConvertResponse(raw []byte) (*schema.ClientResponse, error)

	// SendRequest performs the non-streaming upstream call. Non-2xx
	// replies fail with UpstreamError, deadline expiry with
	// ErrUpstreamTimeout.
	SendRequest(ctx context.Context, providerReq []byte) ([]byte, error)

	// StreamRequest opens the streaming upstream call. Connection
	// failures fail the same way as SendRequest; once established the
	// returned stream may still terminate with an error mid-flight.
	StreamRequest(ctx context.Context, providerReq []byte) (*EventStream, error)

	// MapStopReason translates a provider-native finish reason into one
	// of the four client stop reasons.
	MapStopReason(finish string) schema.StopReason
}

// EventKind classifies a normalized provider event's content.
type EventKind string

const (
	KindText    EventKind = "text"
	KindToolUse EventKind = "tool_use"
)

// ProviderEvent is one normalized upstream chunk. Strategies parse their
// provider-native wire events into this shape so the stream translator
// never sees provider internals.
//
// Exactly one of the content fields group (Key set) or the terminal fields
// group (Finish set) is meaningful per event; Usage may ride along with
// either.
type ProviderEvent struct {
	// Content fields. Key is the provider-side identifier for the block
	// this fragment belongs to (tool call id, slot index, etc.).
	Key      string
	Kind     EventKind
	Text     string // text fragment, Kind == KindText
	ToolID   string // upstream tool call id, first fragment only
	ToolName string // upstream tool name, first fragment only
	Args     string // tool-argument fragment, Kind == KindToolUse
	Closed   bool   // provider signaled this key is finished

	// Terminal fields.
	Finish string // provider-native finish reason, "" otherwise

	Usage *schema.Usage // usage totals so far, when the provider reports them
}

// EventStream is a lazy, single-consumer, finite, non-restartable sequence
// of normalized provider events. The producer goroutine blocks until the
// consumer pulls, so backpressure reaches the upstream connection.
type EventStream struct {
	ch     chan ProviderEvent
	err    error // written by the producer before closing ch
	cancel context.CancelFunc
}

// NewEventStream pairs a consumer stream with its producer sink. cancel is
// invoked when the consumer closes the stream early.
func NewEventStream(cancel context.CancelFunc) (*EventStream, *EventSink) {
	s := &EventStream{
		ch:     make(chan ProviderEvent),
		cancel: cancel,
	}
	return s, &EventSink{stream: s}
}

// Next blocks until the next event, the end of the stream, or ctx is done.
// It returns io.EOF after the final event of a cleanly terminated stream,
// and the producer's error if the stream failed mid-flight.
func (s *EventStream) Next(ctx context.Context) (ProviderEvent, error) {
	select {
	case <-ctx.Done():
		return ProviderEvent{}, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			if s.err != nil {
				return ProviderEvent{}, s.err
			}
			return ProviderEvent{}, io.EOF
		}
		return ev, nil
	}
}

// Close cancels the upstream call and releases the producer.
func (s *EventStream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// EventSink is the producer side of an EventStream.
type EventSink struct {
	stream *EventStream
}

// Send delivers one event, blocking until the consumer accepts it. It
// returns false once ctx is done, which tells the producer to stop.
func (k *EventSink) Send(ctx context.Context, ev ProviderEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case k.stream.ch <- ev:
		return true
	}
}

// Close terminates the stream. A nil err marks clean completion; anything
// else surfaces from the consumer's next call to Next.
func (k *EventSink) Close(err error) {
	k.stream.err = err
	close(k.stream.ch)
}

// Package dispatch orchestrates provider selection: it runs the primary
// provider's conversion strategy and falls back, in order, to configured
// alternates when an attempt fails with a retriable error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/schema"
	"github.com/openrelay/claude-relay/internal/stream"
	"github.com/openrelay/claude-relay/internal/tokencount"
	"github.com/openrelay/claude-relay/internal/usage"
)

// Dispatcher routes one client request through a provider chain. The
// registry is read-only after startup and the reporter is an append-only
// sink, so a single Dispatcher serves all requests concurrently.
type Dispatcher struct {
	registry *providers.Registry
	reporter usage.Reporter
	log      *logrus.Entry
}

// New builds a dispatcher over the given registry and usage sink.
func New(registry *providers.Registry, reporter usage.Reporter, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		registry: registry,
		reporter: reporter,
		log:      log,
	}
}

// Complete runs a non-streaming request through the chain. Attempts are
// strictly sequential so no request is ever billed twice concurrently.
// Exactly one usage record is reported whatever the outcome.
func (d *Dispatcher) Complete(ctx context.Context, requestID string, req *schema.ClientRequest, chain []string) (*schema.ClientResponse, error) {
	if len(chain) == 0 {
		return nil, errors.New("empty provider chain")
	}

	log := d.log.WithField("request_id", requestID)
	var attempts []providers.Attempt

	for _, name := range chain {
		strategy, err := d.registry.Resolve(name)
		if err != nil {
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		providerReq, err := strategy.ConvertRequest(req)
		if err != nil {
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		log.WithField("provider", name).Info("dispatching request")
		raw, err := strategy.SendRequest(ctx, providerReq)
		if err != nil {
			if providers.Retriable(err) {
				log.WithField("provider", name).WithError(err).Warn("provider failed, trying next")
				attempts = append(attempts, providers.Attempt{Provider: name, Err: err})
				continue
			}
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		resp, err := strategy.ConvertResponse(raw)
		if err != nil {
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		if resp.Usage.InputTokens == 0 {
			resp.Usage.InputTokens = tokencount.EstimateRequest(req)
			log.WithField("provider", name).Debug("estimated input tokens locally")
		}
		d.finalize(requestID, name, modelOf(strategy, req), resp.Usage, nil)
		return resp, nil
	}

	err := &providers.ExhaustedError{Attempts: attempts}
	d.finalize(requestID, strings.Join(chain, ","), req.Model, schema.Usage{}, lastAttemptErr(attempts))
	return nil, err
}

// Session is one in-flight streaming translation. Events carries the
// client event sequence; after it closes, Err distinguishes clean
// completion (nil) from abnormal termination.
type Session struct {
	Provider string
	Events   <-chan schema.StreamEvent

	mu  sync.Mutex
	err error
}

// Err returns the terminal error, valid after Events is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Stream opens a streamed request. Fallback applies only while no stream
// is established; once events flow, the response is committed and
// mid-stream failures terminate without message_stop.
func (d *Dispatcher) Stream(ctx context.Context, requestID string, req *schema.ClientRequest, chain []string) (*Session, error) {
	if len(chain) == 0 {
		return nil, errors.New("empty provider chain")
	}

	log := d.log.WithField("request_id", requestID)
	var attempts []providers.Attempt

	for _, name := range chain {
		strategy, err := d.registry.Resolve(name)
		if err != nil {
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		providerReq, err := strategy.ConvertRequest(req)
		if err != nil {
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		log.WithField("provider", name).Info("opening upstream stream")
		events, err := strategy.StreamRequest(ctx, providerReq)
		if err != nil {
			if providers.Retriable(err) {
				log.WithField("provider", name).WithError(err).Warn("provider failed, trying next")
				attempts = append(attempts, providers.Attempt{Provider: name, Err: err})
				continue
			}
			d.finalize(requestID, name, req.Model, schema.Usage{}, err)
			return nil, err
		}

		model := modelOf(strategy, req)
		translator := stream.New(newMessageID(), model, strategy.MapStopReason,
			log.WithField("provider", name))

		ch := make(chan schema.StreamEvent)
		session := &Session{Provider: name, Events: ch}
		go d.pump(ctx, requestID, name, model, req, events, translator, ch, session)
		return session, nil
	}

	err := &providers.ExhaustedError{Attempts: attempts}
	d.finalize(requestID, strings.Join(chain, ","), req.Model, schema.Usage{}, lastAttemptErr(attempts))
	return nil, err
}

// pump drives the translation pipeline: pull one provider event, translate,
// push the resulting client events. Both sides block, so backpressure is
// end-to-end and nothing buffers unboundedly.
func (d *Dispatcher) pump(ctx context.Context, requestID, provider, model string, req *schema.ClientRequest,
	events *providers.EventStream, translator *stream.Translator, ch chan<- schema.StreamEvent, session *Session) {
	defer close(ch)
	defer events.Close()

	fail := func(err error) {
		for _, ev := range translator.Abort() {
			if !push(ctx, ch, ev) {
				break
			}
		}
		session.setErr(err)
		d.finalize(requestID, provider, model, translator.Usage(), err)
	}

	// Drain to EOF even after the finish event: usage totals can trail
	// behind it, and the terminal events wait on them.
	for {
		ev, err := events.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(err)
			return
		}

		out, err := translator.Translate(ev)
		for _, clientEv := range out {
			if !push(ctx, ch, clientEv) {
				session.setErr(ctx.Err())
				d.finalize(requestID, provider, model, translator.Usage(), ctx.Err())
				return
			}
		}
		if err != nil {
			session.setErr(err)
			d.finalize(requestID, provider, model, translator.Usage(), err)
			return
		}
	}

	if !translator.Finishing() {
		fail(fmt.Errorf("%s stream ended before completion", provider))
		return
	}

	for _, clientEv := range translator.Finalize() {
		if !push(ctx, ch, clientEv) {
			session.setErr(ctx.Err())
			d.finalize(requestID, provider, model, translator.Usage(), ctx.Err())
			return
		}
	}

	finalUsage := translator.Usage()
	if finalUsage.InputTokens == 0 {
		finalUsage.InputTokens = tokencount.EstimateRequest(req)
	}
	d.finalize(requestID, provider, model, finalUsage, nil)
}

func push(ctx context.Context, ch chan<- schema.StreamEvent, ev schema.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}

// finalize reports the single usage record for a terminal outcome.
func (d *Dispatcher) finalize(requestID, provider, model string, u schema.Usage, err error) {
	d.reporter.Report(schema.NewUsageRecord(requestID, provider, model, u, statusFor(err)))
}

func statusFor(err error) schema.RequestStatus {
	switch {
	case err == nil:
		return schema.StatusSuccess
	case errors.Is(err, context.Canceled):
		return schema.StatusCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, providers.ErrUpstreamTimeout):
		return schema.StatusTimeout
	default:
		return schema.StatusUpstreamError
	}
}

func lastAttemptErr(attempts []providers.Attempt) error {
	if len(attempts) == 0 {
		return errors.New("no providers attempted")
	}
	return attempts[len(attempts)-1].Err
}

func modelOf(strategy providers.Strategy, req *schema.ClientRequest) string {
	if m, ok := strategy.(interface{ Model() string }); ok && m.Model() != "" {
		return m.Model()
	}
	return req.Model
}

func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

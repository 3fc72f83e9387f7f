// Package usage delivers per-request token accounting records to the
// logging subsystem without ever blocking the response path.
package usage

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openrelay/claude-relay/internal/schema"
)

// Reporter receives exactly one finalized usage record per request.
// Implementations must not block the caller.
type Reporter interface {
	Report(rec schema.UsageRecord)
}

const recordBuffer = 256

// LogReporter writes usage records as structured log lines from a
// dedicated goroutine. Report never blocks: if the buffer is full the
// record is dropped and counted.
type LogReporter struct {
	ch      chan schema.UsageRecord
	log     *logrus.Entry
	dropped int64
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewLogReporter starts the reporting goroutine.
func NewLogReporter(log *logrus.Entry) *LogReporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &LogReporter{
		ch:   make(chan schema.UsageRecord, recordBuffer),
		log:  log,
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Report enqueues one record, dropping it if the buffer is full.
func (r *LogReporter) Report(rec schema.UsageRecord) {
	select {
	case r.ch <- rec:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.log.WithField("dropped_total", dropped).Warn("usage record dropped, reporter buffer full")
	}
}

// Close drains buffered records and stops the goroutine.
func (r *LogReporter) Close() {
	r.once.Do(func() {
		close(r.ch)
		<-r.done
	})
}

// Dropped returns how many records were discarded due to backlog.
func (r *LogReporter) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *LogReporter) run() {
	defer close(r.done)
	for rec := range r.ch {
		r.log.WithFields(logrus.Fields{
			"request_id":    rec.RequestID,
			"provider":      rec.Provider,
			"model":         rec.Model,
			"input_tokens":  rec.InputTokens,
			"output_tokens": rec.OutputTokens,
			"total_tokens":  rec.TotalTokens,
			"status":        rec.Status,
		}).Info("REQUEST")
	}
}

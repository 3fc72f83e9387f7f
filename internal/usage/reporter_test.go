package usage

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrelay/claude-relay/internal/schema"
)

func TestLogReporterWritesRecord(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewLogReporter(logrus.NewEntry(logger))

	r.Report(schema.NewUsageRecord("req-1", "openai", "gpt-4o",
		schema.Usage{InputTokens: 9, OutputTokens: 2}, schema.StatusSuccess))
	r.Close()

	require.Len(t, hook.Entries, 1)
	entry := hook.Entries[0]
	assert.Equal(t, "REQUEST", entry.Message)
	assert.Equal(t, "req-1", entry.Data["request_id"])
	assert.Equal(t, "openai", entry.Data["provider"])
	assert.Equal(t, "gpt-4o", entry.Data["model"])
	assert.Equal(t, 9, entry.Data["input_tokens"])
	assert.Equal(t, 2, entry.Data["output_tokens"])
	assert.Equal(t, 11, entry.Data["total_tokens"])
	assert.Equal(t, schema.StatusSuccess, entry.Data["status"])
}

func TestLogReporterNeverBlocks(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewLogReporter(logrus.NewEntry(logger))
	// Emitting well past the buffer size must return promptly even if the
	// consumer falls behind.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < recordBuffer*4; i++ {
			r.Report(schema.UsageRecord{RequestID: "req", Status: schema.StatusSuccess})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked")
	}
	r.Close()
}

func TestLogReporterCloseIdempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewLogReporter(logrus.NewEntry(logger))

	r.Close()
	r.Close()
}

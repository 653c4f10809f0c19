package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry_RecordAndScrape(t *testing.T) {
	tel := New()

	tel.RecordRequestOutcome("tenant-a", OutcomeAccepted, ReasonAccepted)
	tel.RecordRequestOutcome("tenant-a", OutcomeRejected, ReasonRateLimit)
	tel.ObserveTTFT("tenant-a", 0.05)
	tel.ObserveTPOT("tenant-a", 0.01)
	tel.ObserveQueueWait("tenant-a", 0.02)
	tel.AddGeneratedTokens("tenant-a", 12)
	tel.RecordPromptTruncation("tenant-a")
	tel.RecordRequestIDCollision("tenant-a")
	tel.TickScheduler(3, 2)
	tel.SetKVUtilization(0.42)

	body, contentType, err := tel.Scrape()
	require.NoError(t, err)
	assert.NotEmpty(t, contentType)

	text := string(body)
	assert.Contains(t, text, "gateway_requests_total")
	assert.Contains(t, text, "tokens_generated_total")
	assert.Contains(t, text, "prompt_truncations_total")
	assert.Contains(t, text, "request_id_collisions_total")
	assert.Contains(t, text, "scheduler_ticks_total")
	assert.Contains(t, text, "kv_cache_utilization_ratio 0.42")
	assert.Contains(t, text, "queue_depth 3")
	assert.Contains(t, text, "active_sequences 2")
	assert.Contains(t, text, "request_ttft_seconds")
	assert.Contains(t, text, "request_tpot_seconds")
	assert.Contains(t, text, "queue_wait_seconds")
}

func TestTelemetry_NegativeValuesClamped(t *testing.T) {
	tel := New()
	tel.SetKVUtilization(-1)
	tel.SetKVUtilization(5)
	tel.TickScheduler(-3, -2)
	tel.AddGeneratedTokens("tenant-a", -10)

	body, _, err := tel.Scrape()
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "queue_depth 0"))
	assert.True(t, strings.Contains(text, "active_sequences 0"))
}

func TestNoop_SatisfiesSinkWithoutPanicking(t *testing.T) {
	var sink Sink = Noop{}
	assert.NotPanics(t, func() {
		sink.RecordRequestOutcome("t", OutcomeAccepted, ReasonAccepted)
		sink.ObserveTTFT("t", 1)
		sink.ObserveTPOT("t", 1)
		sink.ObserveQueueWait("t", 1)
		sink.AddGeneratedTokens("t", 1)
		sink.RecordPromptTruncation("t")
		sink.RecordRequestIDCollision("t")
		sink.TickScheduler(1, 1)
		sink.SetKVUtilization(1)
	})
}

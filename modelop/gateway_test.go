package modelop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTenantPolicy(rate, burst float64) TenantPolicy {
	return TenantPolicy{RateTokensPerSec: rate, BurstTokens: burst, DefaultAdapterID: "adapter-test"}
}

func newGatewayForTest(t *testing.T, mutate func(*Config)) *Gateway {
	t.Helper()
	cfg := NewConfig()
	cfg.Scheduler.DecodeStepDuration = 2 * time.Millisecond
	cfg.Scheduler.IdleSleepDuration = 1 * time.Millisecond
	cfg.GenerationTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	gw := NewGateway(cfg, nil)
	gw.Start()
	t.Cleanup(gw.Stop)
	return gw
}

func TestGateway_OversizeRejection(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.MaxRequestTokens = 20
		c.PromptTruncationAllowed = false
		c.DefaultTenantPolicy = testTenantPolicy(10000, 10000)
		c.TenantPolicies = map[string]TenantPolicy{}
	})

	_, err := gw.Generate(context.Background(), GenerateRequest{
		TenantID:     "tenant-x",
		Prompt:       strings.Repeat("x", 80),
		MaxNewTokens: 5,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "exceeds max_request_tokens=20")
}

func TestGateway_TruncationSuccess(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.MaxRequestTokens = 20
		c.PromptTruncationAllowed = true
		c.DefaultTenantPolicy = testTenantPolicy(10000, 10000)
		c.TenantPolicies = map[string]TenantPolicy{}
	})

	result, err := gw.Generate(context.Background(), GenerateRequest{
		TenantID:     "tenant-x",
		Prompt:       strings.Repeat("x", 80),
		MaxNewTokens: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, 5, result.CompletionTokens)
	assert.True(t, result.PromptTruncated)
	assert.Greater(t, result.OriginalPromptTokens, result.EffectivePromptTokens)
	assert.LessOrEqual(t, result.EffectivePromptTokens+5, 20)
}

func TestGateway_RateLimitExhaustion(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.KVBudgetBytes = 1_000_000_000
		c.DefaultTenantPolicy = testTenantPolicy(0, 5)
		c.TenantPolicies = map[string]TenantPolicy{}
	})

	// 16 chars == 4 prompt tokens; +1 max_new_tokens == 5, exactly the burst.
	req := GenerateRequest{TenantID: "tenant-x", Prompt: strings.Repeat("x", 16), MaxNewTokens: 1}

	_, err := gw.Generate(context.Background(), req)
	require.NoError(t, err)

	_, err = gw.Generate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestGateway_KVShedding(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.KVBudgetBytes = 10000
		c.KVBytesPerToken = 1000
		c.ShedThreshold = 0.50
		c.DefaultTenantPolicy = testTenantPolicy(1_000_000, 1_000_000)
		c.TenantPolicies = map[string]TenantPolicy{}
		c.MaxRequestTokens = 8192
	})

	_, err := gw.Generate(context.Background(), GenerateRequest{
		TenantID:     "tenant-x",
		Prompt:       strings.Repeat("x", 44), // 11 tokens at 4 chars/token
		MaxNewTokens: 1,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackpressure))
	assert.Contains(t, err.Error(), "request shed due to KV-cache pressure threshold")
}

func TestGateway_DuplicateRequestID(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.DefaultTenantPolicy = testTenantPolicy(10000, 10000)
		c.TenantPolicies = map[string]TenantPolicy{}
		c.Scheduler.DecodeStepDuration = 50 * time.Millisecond
	})

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, err := gw.Generate(context.Background(), GenerateRequest{
				TenantID:     "tenant-x",
				Prompt:       "hello world",
				MaxNewTokens: 1,
				RequestID:    "fixed-id",
			})
			results[i] = err
		}()
	}
	wg.Wait()

	successCount, conflictCount := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, ErrConflict):
			conflictCount++
			assert.Contains(t, err.Error(), "already in flight")
		}
	}
	assert.Equal(t, 1, successCount)
	assert.Equal(t, 1, conflictCount)
}

func TestGateway_SlotRefillFairness(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.Scheduler.MaxActiveSequences = 2
		c.DefaultTenantPolicy = testTenantPolicy(1_000_000, 1_000_000)
		c.TenantPolicies = map[string]TenantPolicy{}
	})

	type outcome struct {
		result GenerationResult
		err    error
	}
	results := make([]outcome, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	maxNewTokens := []int{5, 1, 1}
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			result, err := gw.Generate(context.Background(), GenerateRequest{
				TenantID:     "tenant-x",
				Prompt:       "hello world",
				MaxNewTokens: maxNewTokens[i],
			})
			results[i] = outcome{result, err}
		}()
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	for _, o := range results {
		require.NoError(t, o.err)
	}

	decodeStep := gw.config.Scheduler.DecodeStepDuration.Seconds()
	assert.Less(t, results[1].result.QueueTimeSeconds, decodeStep*3)
	assert.Less(t, results[2].result.TotalTimeSeconds, results[0].result.TotalTimeSeconds)
	assert.Equal(t, int64(0), gw.kvTracker.ActiveBytes())
}

func TestGateway_RequestIDReleasedOnEveryExitPath(t *testing.T) {
	gw := newGatewayForTest(t, func(c *Config) {
		c.MaxRequestTokens = 20
		c.PromptTruncationAllowed = false
		c.DefaultTenantPolicy = testTenantPolicy(10000, 10000)
		c.TenantPolicies = map[string]TenantPolicy{}
	})

	req := GenerateRequest{
		TenantID:     "tenant-x",
		Prompt:       strings.Repeat("x", 80),
		MaxNewTokens: 5,
		RequestID:    "reused-id",
	}

	_, err := gw.Generate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	assert.True(t, gw.registry.Claim("reused-id"))
	gw.registry.Release("reused-id")
}

func TestGateway_UnknownTenantUsesDefaultPolicy(t *testing.T) {
	gw := newGatewayForTest(t, nil)

	result, err := gw.Generate(context.Background(), GenerateRequest{
		TenantID:     "never-configured-tenant",
		Prompt:       "hello",
		MaxNewTokens: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, "never-configured-tenant", result.TenantID)
}

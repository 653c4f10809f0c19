package modelop

import "time"

// TenantPolicy is the immutable, configured policy for one tenant: its
// token-bucket rate, burst, and default adapter id.
type TenantPolicy struct {
	RateTokensPerSec float64
	BurstTokens      float64
	DefaultAdapterID string
}

// SchedulerConfig groups the continuous-batching scheduler's limits, the
// way the teacher's config.go groups KVCacheConfig/BatchConfig per concern.
type SchedulerConfig struct {
	MaxActiveSequences int
	QueueCapacity      int
	DecodeStepDuration time.Duration
	IdleSleepDuration  time.Duration
}

// Config is the gateway's immutable-after-construction configuration.
type Config struct {
	MaxRequestTokens        int
	GenerationTimeout       time.Duration
	ShedThreshold           float64
	KVBudgetBytes           int64
	KVBytesPerToken         int64
	Scheduler               SchedulerConfig
	TenantPolicies          map[string]TenantPolicy
	DefaultTenantPolicy     TenantPolicy
	PromptTruncationAllowed bool
	TruncationHeadRatio     float64
	TruncationMarker        string
	CharsPerToken           float64
}

// defaultTenantPolicies mirrors original_source/src/modelop/config.py's
// DEFAULT_TENANT_POLICIES sample fleet.
func defaultTenantPolicies() map[string]TenantPolicy {
	return map[string]TenantPolicy{
		"tenant-a": {
			RateTokensPerSec: 4000.0,
			BurstTokens:      8000.0,
			DefaultAdapterID: "adapter-analytics-v1",
		},
		"tenant-b": {
			RateTokensPerSec: 2500.0,
			BurstTokens:      5000.0,
			DefaultAdapterID: "adapter-chat-v1",
		},
	}
}

// NewConfig returns a Config populated with spec.md §6's defaults.
func NewConfig() *Config {
	return &Config{
		MaxRequestTokens:  8192,
		GenerationTimeout: 120 * time.Second,

		ShedThreshold:   0.90,
		KVBudgetBytes:   8 * 1024 * 1024 * 1024,
		KVBytesPerToken: 16384,

		Scheduler: SchedulerConfig{
			MaxActiveSequences: 16,
			QueueCapacity:      1024,
			DecodeStepDuration: 20 * time.Millisecond,
			IdleSleepDuration:  5 * time.Millisecond,
		},

		TenantPolicies: defaultTenantPolicies(),
		DefaultTenantPolicy: TenantPolicy{
			RateTokensPerSec: 1500.0,
			BurstTokens:      3000.0,
			DefaultAdapterID: "adapter-default",
		},

		PromptTruncationAllowed: true,
		TruncationHeadRatio:     0.35,
		TruncationMarker:        "\n[...context truncated...]\n",
		CharsPerToken:           DefaultCharsPerToken,
	}
}

// PolicyFor resolves a tenant's policy, defaulting when unknown. Unknown
// tenants never fail admission — they simply use the default policy.
func (c *Config) PolicyFor(tenantID string) TenantPolicy {
	if policy, ok := c.TenantPolicies[tenantID]; ok {
		return policy
	}
	return c.DefaultTenantPolicy
}

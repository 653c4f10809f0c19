package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelop/gateway/modelop"
)

// configOverlay is a partial view of modelop.Config for YAML loading. Every
// field is optional; only present keys override NewConfig()'s defaults.
// Strict field checking (KnownFields) means a typo'd key fails loudly
// instead of silently no-opping, the same contract the teacher's
// defaults.yaml loader enforces.
type configOverlay struct {
	MaxRequestTokens        *int     `yaml:"max_request_tokens"`
	GenerationTimeoutMS     *int64   `yaml:"generation_timeout_ms"`
	ShedThreshold           *float64 `yaml:"shed_threshold"`
	KVBudgetBytes           *int64   `yaml:"kv_budget_bytes"`
	KVBytesPerToken         *int64   `yaml:"kv_bytes_per_token"`
	MaxActiveSequences      *int     `yaml:"max_active_sequences"`
	QueueCapacity           *int     `yaml:"queue_capacity"`
	DecodeStepMS            *int64   `yaml:"decode_step_ms"`
	IdleSleepMS             *int64   `yaml:"idle_sleep_ms"`
	PromptTruncationAllowed *bool    `yaml:"prompt_truncation_allowed"`
	TruncationHeadRatio     *float64 `yaml:"truncation_head_ratio"`
	TruncationMarker        *string  `yaml:"truncation_marker"`
	CharsPerToken           *float64 `yaml:"chars_per_token"`
}

// loadConfigOverlay parses path as strict YAML and applies every present
// field onto cfg, leaving cfg's existing defaults untouched otherwise.
func loadConfigOverlay(path string, cfg *modelop.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config overlay %s: %w", path, err)
	}

	var overlay configOverlay
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&overlay); err != nil {
		return fmt.Errorf("parsing config overlay %s: %w", path, err)
	}

	if overlay.MaxRequestTokens != nil {
		cfg.MaxRequestTokens = *overlay.MaxRequestTokens
	}
	if overlay.GenerationTimeoutMS != nil {
		cfg.GenerationTimeout = time.Duration(*overlay.GenerationTimeoutMS) * time.Millisecond
	}
	if overlay.ShedThreshold != nil {
		cfg.ShedThreshold = *overlay.ShedThreshold
	}
	if overlay.KVBudgetBytes != nil {
		cfg.KVBudgetBytes = *overlay.KVBudgetBytes
	}
	if overlay.KVBytesPerToken != nil {
		cfg.KVBytesPerToken = *overlay.KVBytesPerToken
	}
	if overlay.MaxActiveSequences != nil {
		cfg.Scheduler.MaxActiveSequences = *overlay.MaxActiveSequences
	}
	if overlay.QueueCapacity != nil {
		cfg.Scheduler.QueueCapacity = *overlay.QueueCapacity
	}
	if overlay.DecodeStepMS != nil {
		cfg.Scheduler.DecodeStepDuration = time.Duration(*overlay.DecodeStepMS) * time.Millisecond
	}
	if overlay.IdleSleepMS != nil {
		cfg.Scheduler.IdleSleepDuration = time.Duration(*overlay.IdleSleepMS) * time.Millisecond
	}
	if overlay.PromptTruncationAllowed != nil {
		cfg.PromptTruncationAllowed = *overlay.PromptTruncationAllowed
	}
	if overlay.TruncationHeadRatio != nil {
		cfg.TruncationHeadRatio = *overlay.TruncationHeadRatio
	}
	if overlay.TruncationMarker != nil {
		cfg.TruncationMarker = *overlay.TruncationMarker
	}
	if overlay.CharsPerToken != nil {
		cfg.CharsPerToken = *overlay.CharsPerToken
	}

	return nil
}

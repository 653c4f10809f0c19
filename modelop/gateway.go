package modelop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modelop/gateway/modelop/telemetry"
)

// maxRequestIDClaimAttempts bounds the no-supplied-id retry loop in step 1
// of the admission pipeline (spec.md §4.H).
const maxRequestIDClaimAttempts = 5

// GenerateRequest is the gateway's input, independent of any transport
// encoding (decoding an HTTP body into this shape stays out of scope).
type GenerateRequest struct {
	TenantID     string
	Prompt       string
	MaxNewTokens int
	AdapterID    string // optional; defaults to the tenant policy's adapter
	RequestID    string // optional; generated if empty
}

// Gateway wires the admission pipeline (§4.H) together: it claims a
// request id, fits the prompt to budget, consumes rate-limit credit,
// reserves KV capacity, and submits a job to the scheduler.
type Gateway struct {
	config    *Config
	telemetry telemetry.Sink

	registry    *InflightRegistry
	rateLimiter *TokenRateLimiter
	kvEstimator *KVCapacityEstimator
	kvTracker   *KVPressureTracker
	optimizer   *ContextWindowOptimizer
	scheduler   *Scheduler
}

// NewGateway builds a Gateway and its owned subsystems from config. sink
// may be nil, in which case telemetry.Noop is used.
func NewGateway(config *Config, sink telemetry.Sink) *Gateway {
	if sink == nil {
		sink = telemetry.Noop{}
	}

	kvTracker := NewKVPressureTracker(config.KVBudgetBytes)
	sink.SetKVUtilization(0)

	gw := &Gateway{
		config:      config,
		telemetry:   sink,
		registry:    NewInflightRegistry(),
		rateLimiter: NewTokenRateLimiter(config),
		kvEstimator: NewKVCapacityEstimator(config.KVBytesPerToken),
		kvTracker:   kvTracker,
		optimizer:   NewContextWindowOptimizer(config.CharsPerToken, config.TruncationHeadRatio, config.TruncationMarker),
		scheduler:   NewScheduler(config.Scheduler, kvTracker, sink),
	}
	return gw
}

// Start starts the scheduler's decode loop.
func (g *Gateway) Start() { g.scheduler.Start() }

// Stop drains the scheduler.
func (g *Gateway) Stop() { g.scheduler.Stop() }

// QueueDepth and ActiveSequences and KVUtilizationRatio back a health
// observer (spec.md §6's /health contract).
func (g *Gateway) QueueDepth() int            { return g.scheduler.QueueDepth() }
func (g *Gateway) ActiveSequences() int       { return g.scheduler.ActiveCount() }
func (g *Gateway) KVUtilizationRatio() float64 { return g.kvTracker.UtilizationRatio() }

// Generate runs the admission pipeline exactly once for req and, on
// success, waits for the scheduler to complete the resulting sequence.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (GenerationResult, error) {
	now := time.Now()

	requestID, err := g.claimRequestID(req.RequestID, req.TenantID)
	if err != nil {
		return GenerationResult{}, err
	}
	defer g.registry.Release(requestID)

	policy := g.config.PolicyFor(req.TenantID)
	adapterID := req.AdapterID
	if adapterID == "" {
		adapterID = policy.DefaultAdapterID
	}

	promptBudget := g.config.MaxRequestTokens - req.MaxNewTokens
	if promptBudget <= 0 {
		g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonInvalid)
		return GenerationResult{}, fmt.Errorf("%w: max_new_tokens leaves no room for a prompt under max_request_tokens=%d", ErrInvalid, g.config.MaxRequestTokens)
	}

	optimized := g.optimizer.Optimize(req.Prompt, promptBudget)
	if optimized.PromptTruncated {
		if !g.config.PromptTruncationAllowed {
			g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonInvalid)
			return GenerationResult{}, fmt.Errorf("%w: prompt exceeds max_request_tokens=%d and truncation is disabled", ErrInvalid, g.config.MaxRequestTokens)
		}
		g.telemetry.RecordPromptTruncation(req.TenantID)
	}

	estimatedTotal := optimized.EffectivePromptTokens + req.MaxNewTokens
	if estimatedTotal > g.config.MaxRequestTokens {
		g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonInvalid)
		return GenerationResult{}, fmt.Errorf("%w: request token budget %d exceeds max_request_tokens=%d", ErrInvalid, estimatedTotal, g.config.MaxRequestTokens)
	}

	if !g.rateLimiter.TryConsume(req.TenantID, estimatedTotal, now) {
		g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonRateLimit)
		return GenerationResult{}, fmt.Errorf("%w", ErrRateLimited)
	}

	estimatedBytes := g.kvEstimator.EstimateRequestBytes(estimatedTotal)
	if !g.kvTracker.TryReserve(requestID, estimatedBytes, g.config.ShedThreshold) {
		g.rateLimiter.Refund(req.TenantID, estimatedTotal)
		g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonKVPressure)
		return GenerationResult{}, fmt.Errorf("%w: request shed due to KV-cache pressure threshold", ErrBackpressure)
	}
	g.telemetry.SetKVUtilization(g.kvTracker.UtilizationRatio())

	job := newInferenceJob(
		requestID, req.TenantID, adapterID, optimized.Prompt,
		optimized.EffectivePromptTokens, optimized.OriginalPromptTokens, optimized.PromptTruncated,
		req.MaxNewTokens, estimatedTotal,
		now, time.Now(),
	)

	if !g.scheduler.Enqueue(job) {
		g.kvTracker.Release(requestID)
		g.rateLimiter.Refund(req.TenantID, estimatedTotal)
		g.telemetry.SetKVUtilization(g.kvTracker.UtilizationRatio())
		g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonQueueFull)
		return GenerationResult{}, fmt.Errorf("%w: scheduler queue is full", ErrBackpressure)
	}

	g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeAccepted, telemetry.ReasonAccepted)

	awaitCtx, cancel := context.WithTimeout(ctx, g.config.GenerationTimeout)
	defer cancel()

	result, err := job.result.await(awaitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.telemetry.RecordRequestOutcome(req.TenantID, telemetry.OutcomeRejected, telemetry.ReasonTimeout)
			return GenerationResult{}, fmt.Errorf("%w", ErrTimeout)
		}
		return GenerationResult{}, err
	}

	return result, nil
}

// claimRequestID implements spec.md §4.H step 1: if the caller supplied an
// id, a single claim attempt either succeeds or reports a collision; with
// no supplied id, up to maxRequestIDClaimAttempts random ids are tried.
func (g *Gateway) claimRequestID(supplied, tenantID string) (string, error) {
	if supplied != "" {
		if !g.registry.Claim(supplied) {
			g.telemetry.RecordRequestIDCollision(tenantID)
			g.telemetry.RecordRequestOutcome(tenantID, telemetry.OutcomeRejected, telemetry.ReasonRequestIDCollision)
			return "", fmt.Errorf("%w: request id %q already in flight", ErrConflict, supplied)
		}
		return supplied, nil
	}

	for attempt := 0; attempt < maxRequestIDClaimAttempts; attempt++ {
		candidate := uuid.NewString()
		if g.registry.Claim(candidate) {
			return candidate, nil
		}
		logrus.Warnf("generated request id %q collided on attempt %d", candidate, attempt+1)
	}
	return "", fmt.Errorf("%w: exhausted %d attempts to allocate a request id", ErrUnavailable, maxRequestIDClaimAttempts)
}

package modelop

import (
	"context"
	"time"
)

// InferenceJob is immutable once constructed: everything the scheduler
// needs to drive one sequence to completion.
type InferenceJob struct {
	RequestID            string
	TenantID             string
	AdapterID            string
	Prompt               string
	PromptTokens         int
	OriginalPromptTokens int
	PromptTruncated      bool
	MaxNewTokens         int
	EstimatedTotalTokens int
	AdmittedAt           time.Time
	EnqueuedAt           time.Time

	result *resultSlot
}

// newInferenceJob builds a job with a fresh one-shot result slot.
func newInferenceJob(requestID, tenantID, adapterID, prompt string, promptTokens, originalPromptTokens int, promptTruncated bool, maxNewTokens, estimatedTotalTokens int, admittedAt, enqueuedAt time.Time) *InferenceJob {
	return &InferenceJob{
		RequestID:            requestID,
		TenantID:             tenantID,
		AdapterID:            adapterID,
		Prompt:               prompt,
		PromptTokens:         promptTokens,
		OriginalPromptTokens: originalPromptTokens,
		PromptTruncated:      promptTruncated,
		MaxNewTokens:         maxNewTokens,
		EstimatedTotalTokens: estimatedTotalTokens,
		AdmittedAt:           admittedAt,
		EnqueuedAt:           enqueuedAt,
		result:               newResultSlot(),
	}
}

// GenerationResult is the immutable outcome of a completed sequence, mapped
// into the response shape spec.md §6 describes for the Generate endpoint.
type GenerationResult struct {
	RequestID             string
	TenantID              string
	AdapterID             string
	Output                string
	PromptTokens          int
	OriginalPromptTokens  int
	EffectivePromptTokens int
	PromptTruncated       bool
	CompletionTokens      int
	TotalTokens           int
	QueueTimeSeconds      float64
	TTFTSeconds           float64
	AvgTPOTSeconds        float64
	TotalTimeSeconds      float64
}

// jobOutcome is what is sent, exactly once, into a job's result slot.
type jobOutcome struct {
	result GenerationResult
	err    error
}

// resultSlot is a one-shot completion channel: the scheduler fulfills or
// fails it exactly once, and the orchestrator awaits it with a timeout.
type resultSlot struct {
	ch chan jobOutcome
}

func newResultSlot() *resultSlot {
	return &resultSlot{ch: make(chan jobOutcome, 1)}
}

func (s *resultSlot) fulfill(result GenerationResult) {
	select {
	case s.ch <- jobOutcome{result: result}:
	default:
	}
}

func (s *resultSlot) fail(err error) {
	select {
	case s.ch <- jobOutcome{err: err}:
	default:
	}
}

func (s *resultSlot) await(ctx context.Context) (GenerationResult, error) {
	select {
	case outcome := <-s.ch:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return GenerationResult{}, ctx.Err()
	}
}

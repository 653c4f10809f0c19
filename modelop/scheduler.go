package modelop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelop/gateway/modelop/telemetry"
)

// activeSequence is a job the decode loop owns exclusively while it is
// being advanced, one token per tick.
type activeSequence struct {
	job *InferenceJob

	startedAt     time.Time
	hasStarted    bool
	firstTokenAt  time.Time
	hasFirstToken bool
	lastTokenAt   time.Time

	outputChunks    []string
	generatedTokens int
	tpotDeltas      []float64
	done            bool
}

// Scheduler is the continuous-batching scheduler: a bounded FIFO queue of
// pending jobs, an active set bounded by MaxActiveSequences, and a single
// background decode loop that advances every active sequence one token per
// tick, refilling freed slots mid-stream.
//
// The decode loop is a single goroutine that owns the active set
// exclusively; Enqueue and the public observers only ever touch the queue
// and active slice under mu, matching spec.md §5's requirement that a
// threaded implementation guard active-set mutation.
type Scheduler struct {
	cfg       SchedulerConfig
	kvTracker *KVPressureTracker
	telemetry telemetry.Sink

	mu     sync.Mutex
	queue  []*InferenceJob
	active []*activeSequence

	cancel  context.CancelFunc
	stopped chan struct{}
	running bool
}

// NewScheduler builds a scheduler bound to a KV tracker (for release on
// completion/drain) and a telemetry sink.
func NewScheduler(cfg SchedulerConfig, kvTracker *KVPressureTracker, sink telemetry.Sink) *Scheduler {
	if sink == nil {
		sink = telemetry.Noop{}
	}
	return &Scheduler{
		cfg:       cfg,
		kvTracker: kvTracker,
		telemetry: sink,
	}
}

// Start spawns the decode loop if it is not already running. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.runLoop(ctx)
}

// Stop signals the decode loop to exit, awaits it, then drains remaining
// state: every queued and active job is released from the KV tracker and
// failed with a terminal condition.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	stopped := s.stopped
	s.mu.Unlock()

	cancel()
	<-stopped

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.queue {
		s.kvTracker.Release(job.RequestID)
		job.result.fail(fmt.Errorf("%w before execution", errSchedulerStopped))
	}
	s.queue = nil

	for _, seq := range s.active {
		s.kvTracker.Release(seq.job.RequestID)
		seq.job.result.fail(fmt.Errorf("%w during execution", errSchedulerStopped))
	}
	s.active = nil

	s.telemetry.TickScheduler(0, 0)
	s.telemetry.SetKVUtilization(s.kvTracker.UtilizationRatio())
	s.running = false
}

// Enqueue is the non-blocking fast path: it fails immediately if the queue
// is at capacity, rather than waiting for space.
func (s *Scheduler) Enqueue(job *InferenceJob) bool {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, job)
	depth, active := len(s.queue), len(s.active)
	s.mu.Unlock()

	s.telemetry.TickScheduler(depth, active)
	return true
}

// QueueDepth returns the number of jobs waiting to be scheduled.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ActiveCount returns the number of sequences currently decoding.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.stopped)

	for {
		if ctx.Err() != nil {
			return
		}

		s.refillSlots()

		s.mu.Lock()
		activeEmpty := len(s.active) == 0
		depth, active := len(s.queue), len(s.active)
		s.mu.Unlock()

		if activeEmpty {
			s.telemetry.TickScheduler(depth, active)
			if !sleepOrDone(ctx, s.cfg.IdleSleepDuration) {
				return
			}
			continue
		}

		if !sleepOrDone(ctx, s.cfg.DecodeStepDuration) {
			return
		}
		now := time.Now()

		s.mu.Lock()
		snapshot := make([]*activeSequence, len(s.active))
		copy(snapshot, s.active)
		s.mu.Unlock()

		for _, seq := range snapshot {
			decodeSingleStep(seq, now, s.telemetry)
		}

		s.finalizeCompleted(now)
		s.refillSlots()

		s.mu.Lock()
		depth, active = len(s.queue), len(s.active)
		s.mu.Unlock()
		s.telemetry.TickScheduler(depth, active)
		s.telemetry.SetKVUtilization(s.kvTracker.UtilizationRatio())
	}
}

// refillSlots moves queued jobs into the active set while there is room.
// Called both at the top of a tick and again after finalization, so a slot
// freed mid-tick accepts a waiting job within the same tick (it will not
// decode until the next tick).
func (s *Scheduler) refillSlots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.active) < s.cfg.MaxActiveSequences && len(s.queue) > 0 {
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.active = append(s.active, &activeSequence{job: job})
	}
}

func (s *Scheduler) finalizeCompleted(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) == 0 {
		return
	}

	remaining := s.active[:0:0]
	for _, seq := range s.active {
		if !seq.done {
			remaining = append(remaining, seq)
			continue
		}

		s.kvTracker.Release(seq.job.RequestID)
		s.telemetry.SetKVUtilization(s.kvTracker.UtilizationRatio())
		s.telemetry.AddGeneratedTokens(seq.job.TenantID, seq.generatedTokens)

		result := finalizeResult(seq, now)
		seq.job.result.fulfill(result)
	}
	s.active = remaining
}

// decodeSingleStep advances one sequence by one synthetic token, per
// spec.md §4.G's per-sequence decode step contract.
func decodeSingleStep(seq *activeSequence, now time.Time, sink telemetry.Sink) {
	if seq.done {
		return
	}

	if !seq.hasStarted {
		seq.startedAt = now
		seq.hasStarted = true
		sink.ObserveQueueWait(seq.job.TenantID, now.Sub(seq.job.EnqueuedAt).Seconds())
	}

	if seq.generatedTokens == 0 {
		seq.firstTokenAt = now
		seq.hasFirstToken = true
		sink.ObserveTTFT(seq.job.TenantID, now.Sub(seq.job.AdmittedAt).Seconds())
	} else {
		delta := now.Sub(seq.lastTokenAt).Seconds()
		seq.tpotDeltas = append(seq.tpotDeltas, delta)
		sink.ObserveTPOT(seq.job.TenantID, delta)
	}

	nextIndex := seq.generatedTokens + 1
	seq.outputChunks = append(seq.outputChunks, fmt.Sprintf("tok%d", nextIndex))
	seq.generatedTokens = nextIndex
	seq.lastTokenAt = now

	if seq.generatedTokens >= seq.job.MaxNewTokens {
		seq.done = true
	}
}

// finalizeResult computes the completion metrics for a sequence whose done
// flag was set this tick.
func finalizeResult(seq *activeSequence, now time.Time) GenerationResult {
	var ttft float64
	if seq.hasFirstToken {
		ttft = nonNegative(seq.firstTokenAt.Sub(seq.job.AdmittedAt).Seconds())
	}

	var avgTPOT float64
	if len(seq.tpotDeltas) > 0 {
		var sum float64
		for _, d := range seq.tpotDeltas {
			sum += d
		}
		avgTPOT = sum / float64(len(seq.tpotDeltas))
	}

	startedAt := now
	if seq.hasStarted {
		startedAt = seq.startedAt
	}
	queueTime := nonNegative(startedAt.Sub(seq.job.EnqueuedAt).Seconds())
	totalTime := nonNegative(now.Sub(seq.job.AdmittedAt).Seconds())

	output := ""
	for i, chunk := range seq.outputChunks {
		if i > 0 {
			output += " "
		}
		output += chunk
	}

	return GenerationResult{
		RequestID:             seq.job.RequestID,
		TenantID:              seq.job.TenantID,
		AdapterID:             seq.job.AdapterID,
		Output:                output,
		PromptTokens:          seq.job.PromptTokens,
		OriginalPromptTokens:  seq.job.OriginalPromptTokens,
		EffectivePromptTokens: seq.job.PromptTokens,
		PromptTruncated:       seq.job.PromptTruncated,
		CompletionTokens:      seq.generatedTokens,
		TotalTokens:           seq.job.PromptTokens + seq.generatedTokens,
		QueueTimeSeconds:      queueTime,
		TTFTSeconds:           ttft,
		AvgTPOTSeconds:        avgTPOT,
		TotalTimeSeconds:      totalTime,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// sleepOrDone sleeps for d, returning false if ctx is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

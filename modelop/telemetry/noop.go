package telemetry

// Noop is the Sink used when no metrics backend is configured; every call
// discards its arguments.
type Noop struct{}

func (Noop) RecordRequestOutcome(string, Outcome, Reason) {}
func (Noop) ObserveTTFT(string, float64)                  {}
func (Noop) ObserveTPOT(string, float64)                  {}
func (Noop) ObserveQueueWait(string, float64)             {}
func (Noop) AddGeneratedTokens(string, int)               {}
func (Noop) RecordPromptTruncation(string)                {}
func (Noop) RecordRequestIDCollision(string)              {}
func (Noop) TickScheduler(int, int)                       {}
func (Noop) SetKVUtilization(float64)                     {}

var _ Sink = Noop{}
var _ Sink = (*Telemetry)(nil)

package metrics

// Metric names emitted by gatekeep.
const (
	Decisions    = "gatekeep_decisions_total"
	Degraded     = "gatekeep_degraded_total"
	ScriptCalls  = "gatekeep_script_calls_total"
	ScriptTiming = "gatekeep_script_latency_seconds"
	LockWaits    = "gatekeep_lock_attempts"
)

// Recorder receives counters and observations. Tags must use the same keys for every
// call with a given name.
type Recorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOp is a Recorder that drops everything.
type NoOp struct{}

func (NoOp) Add(name string, value float64, tags map[string]string)     {}
func (NoOp) Observe(name string, value float64, tags map[string]string) {}

// OrNoOp returns r, or NoOp when r is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOp{}
	}
	return r
}

package loader

import "time"

// Request results reported through Metrics.Request.
const (
	ResultHit       = "hit"       // served from memory or a completed status
	ResultCoalesced = "coalesced" // joined another caller's flight
	ResultFetched   = "fetched"   // started a flight that succeeded
	ResultFailed    = "failed"    // the load returned an error
)

// Metrics receives loader signals. Implementations must be goroutine-safe.
type Metrics interface {
	// Request is reported once per Load with one of the Result* labels.
	Request(result string)
	// Fetch is reported once per Fetch Executor call; outcome is "ok" or
	// the fetch.Kind of the failure.
	Fetch(outcome string, d time.Duration)
	// Placeholder is reported every time a placeholder is substituted.
	Placeholder()
	// Slots is the number of limiter slots in use after a change.
	Slots(inUse int)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) Request(string)              {}
func (NoopMetrics) Fetch(string, time.Duration) {}
func (NoopMetrics) Placeholder()                {}
func (NoopMetrics) Slots(int)                   {}

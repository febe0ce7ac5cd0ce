package cache

// NoopMetrics discards every signal. It is the default Metrics.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                           {}
func (NoopMetrics) Miss()                          {}
func (NoopMetrics) Evict(EvictReason)              {}
func (NoopMetrics) Resize(entries int, cost int64) {}

var _ Metrics = NoopMetrics{}

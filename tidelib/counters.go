package tidelib

import "github.com/driftlock/tideline/metrics"

// counterSet resolves the six operational counters once, at construction.
type counterSet struct {
	writeSuccess metrics.Counter
	writeErrors  metrics.Counter
	flushSuccess metrics.Counter
	flushErrors  metrics.Counter
	resetSuccess metrics.Counter
	resetErrors  metrics.Counter
}

func newCounterSet(reg metrics.Registry, prefix string) *counterSet {
	return &counterSet{
		writeSuccess: reg.DeltaCounter(counterName(prefix, "write.success")),
		writeErrors:  reg.DeltaCounter(counterName(prefix, "write.errors")),
		flushSuccess: reg.DeltaCounter(counterName(prefix, "flush.success")),
		flushErrors:  reg.DeltaCounter(counterName(prefix, "flush.errors")),
		resetSuccess: reg.DeltaCounter(counterName(prefix, "reset.success")),
		resetErrors:  reg.DeltaCounter(counterName(prefix, "reset.errors")),
	}
}

// counterName drops the separator along with the prefix when it is empty.
func counterName(prefix, op string) string {
	if prefix == "" {
		return op
	}
	return prefix + "." + op
}

package config

import "runtime/debug"

// ApplyRuntimeTuning sets GOGC and a soft memory limit from cfg.Runtime
// before a run starts. A backtest replays a whole dataset in one
// single-threaded process (spec.md Non-goals: no multi-threaded
// execution), so the default GC cadence trades throughput for headroom
// the run doesn't need; a higher GOGC trims collection pauses out of the
// deterministic loop.
func ApplyRuntimeTuning(c *Config) {
	if c.Runtime.GCPercent > 0 {
		debug.SetGCPercent(c.Runtime.GCPercent)
	}
	if c.Runtime.SoftMemoryLimitBytes > 0 {
		debug.SetMemoryLimit(c.Runtime.SoftMemoryLimitBytes)
	}
}

// Package timing provides a minimal stopwatch for measuring pipeline stage
// durations in milliseconds, the unit every timings payload reports.
package timing

import "time"

// Stopwatch measures elapsed wall time from the moment it was started.
type Stopwatch struct {
	start time.Time
}

// Start returns a running stopwatch.
func Start() Stopwatch {
	return Stopwatch{start: time.Now()}
}

// Elapsed returns the time since the stopwatch started.
func (s Stopwatch) Elapsed() time.Duration {
	return time.Since(s.start)
}

// ElapsedMS returns the elapsed time in whole milliseconds.
func (s Stopwatch) ElapsedMS() int64 {
	return s.Elapsed().Milliseconds()
}

// Package metrics owns the tally root scope of the process.
package metrics

import (
	"io"
	"time"

	"github.com/uber-go/tally/v4"
)

// NewRootScope returns a scope prefixed with prefix, reported every interval.
// A nil reporter keeps the values in memory for Snapshot.
func NewRootScope(prefix string, tags map[string]string, reporter tally.StatsReporter, interval time.Duration) (tally.Scope, io.Closer) {
	if reporter == nil {
		reporter = tally.NullStatsReporter
	}
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:   prefix,
		Tags:     tags,
		Reporter: reporter,
	}, interval)
}

// CounterValue reads a counter from a test scope by its full name.
func CounterValue(scope tally.TestScope, name string) int64 {
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == name {
			return c.Value()
		}
	}
	return 0
}

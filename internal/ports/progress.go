package ports

import (
	"fmt"
	"route-decomposition-service/internal/domain"
)

// Progress is one advancement report. Nil pointers mean "not reported".
type Progress struct {
	Source      string
	Advancement *int
	Total       *int
	Message     string
	Cost        *float64
	ElapsedMs   *int64
	Solution    *domain.Solution
}

type ProgressFunc func(Progress)

// WithPrefix returns a callback that prefixes messages with "<kind> i/n - ".
// Nothing is prefixed when total is 1 so single-stage runs keep their messages.
func WithPrefix(next ProgressFunc, kind string, index, total int) ProgressFunc {
	if next == nil {
		return nil
	}
	if total <= 1 {
		return next
	}
	prefix := fmt.Sprintf("%s %d/%d - ", kind, index, total)
	return func(p Progress) {
		p.Message = prefix + p.Message
		next(p)
	}
}

// Report calls fn with a message when fn is set.
func Report(fn ProgressFunc, msg string) {
	if fn != nil {
		fn(Progress{Message: msg})
	}
}

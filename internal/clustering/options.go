// Package clustering splits problem instances into load-balanced groups of
// missions and assigns resources to each group.
package clustering

// Options tunes the clustering heuristics.
type Options struct {
	// Restarts is the number of randomized k-means runs; the best scoring one wins.
	Restarts int
	// Iterations bounds the balanced assignment loop of one run.
	Iterations int
	// Tolerance is the load a cluster may take above its limit before items
	// overflow to other clusters.
	Tolerance float64
	// IncompatibilityFactor scales the penalty given to a resource whose skills
	// cannot cover a cluster, relative to the largest geographic distance.
	IncompatibilityFactor float64
	Seed                  uint64
}

func DefaultOptions() Options {
	return Options{
		Restarts:              50,
		Iterations:            300,
		Tolerance:             0.10,
		IncompatibilityFactor: 100,
		Seed:                  1,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Restarts <= 0 {
		o.Restarts = d.Restarts
	}
	if o.Iterations <= 0 {
		o.Iterations = d.Iterations
	}
	if o.Tolerance < 0 {
		o.Tolerance = d.Tolerance
	}
	if o.IncompatibilityFactor <= 0 {
		o.IncompatibilityFactor = d.IncompatibilityFactor
	}
	return o
}

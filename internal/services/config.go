package services

import "route-decomposition-service/internal/clustering"

// OrchestratorConfig holds the heuristic constants of the resolution pipeline.
type OrchestratorConfig struct {
	// MaxDepth bounds the number of nested stages of one submission.
	MaxDepth int
	// Workers is the number of independent sub-instances solved concurrently.
	Workers int
	// MaxSplitSize overrides the per-instance split threshold when positive.
	MaxSplitSize int
	// IsolateUntagged sends untagged missions to their own resource-less
	// instance during skill partitioning instead of skipping it.
	IsolateUntagged bool
	// PoorlyPopulatedRatio is the share of work time under which a route of a
	// split half is dropped.
	PoorlyPopulatedRatio float64
	// SplitSolveMinShare is added to a half's mission share when scaling its
	// resource limit.
	SplitSolveMinShare float64
	Dichotomous        DichotomousConfig
	Clustering         clustering.Options
}

// DichotomousConfig tunes the dichotomous splitter.
type DichotomousConfig struct {
	// UnassignedRatio triggers the split when a direct solve leaves at least
	// this share of visits unassigned.
	UnassignedRatio  float64
	MinResources     int
	MinMissions      int
	MaxSplitAttempts int
	BudgetDivisor    float64
	DefaultDuration  int64
	DefaultMinimum   int64
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxDepth:             64,
		Workers:              4,
		PoorlyPopulatedRatio: 0.5,
		SplitSolveMinShare:   0.10,
		Dichotomous:          DefaultDichotomousConfig(),
		Clustering:           clustering.DefaultOptions(),
	}
}

func DefaultDichotomousConfig() DichotomousConfig {
	return DichotomousConfig{
		UnassignedRatio:  0.7,
		MinResources:     3,
		MinMissions:      50,
		MaxSplitAttempts: 10,
		BudgetDivisor:    2.25,
		DefaultDuration:  120000,
		DefaultMinimum:   90000,
	}
}

package clustering

import (
	"math"
	"math/rand/v2"
	"route-decomposition-service/internal/domain"
	"slices"
)

const emptyClusterPenalty = 1e12

// BalancedKMeans groups items into len(limits) clusters whose metric load
// stays close to each cluster's limit. seeds, when given, are used as the
// centroids of the first run. It returns the item indices of each cluster.
func BalancedKMeans(items []Item, limits []float64, metric string, seeds []domain.Coordinates, opts Options) [][]int {
	opts = opts.normalized()
	n := len(limits)
	if n == 0 {
		return nil
	}
	if n == 1 || len(items) <= 1 {
		out := make([][]int, n)
		for i := range items {
			out[0] = append(out[0], i)
		}
		return out
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ma, mb := items[a].Metric(metric), items[b].Metric(metric)
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})

	var best []int
	var bestCentroids []domain.Coordinates
	bestScore := math.Inf(1)

	for r := 0; r < opts.Restarts; r++ {
		ratio := 0.9 + 0.1*float64(opts.Restarts-r)/float64(opts.Restarts)

		var centroids []domain.Coordinates
		switch {
		case r == 0 && len(seeds) == n && distinct(seeds):
			centroids = slices.Clone(seeds)
		case bestCentroids != nil && r%2 == 1:
			centroids = slices.Clone(bestCentroids)
		default:
			centroids = randomCentroids(items, n, rng)
		}

		assign, cs := balancedAssign(items, order, centroids, limits, metric, (1+opts.Tolerance)*ratio, opts.Iterations, rng)
		score := clusteringScore(items, assign, cs, limits, metric)
		if score < bestScore {
			bestScore = score
			best = assign
			bestCentroids = cs
		}
	}

	return groupsOf(best, n)
}

func distinct(cs []domain.Coordinates) bool {
	seen := map[domain.Coordinates]struct{}{}
	for _, c := range cs {
		if _, ok := seen[c]; ok {
			return false
		}
		seen[c] = struct{}{}
	}
	return true
}

func randomCentroids(items []Item, n int, rng *rand.Rand) []domain.Coordinates {
	perm := rng.Perm(len(items))
	out := make([]domain.Coordinates, n)
	for c := range n {
		out[c] = items[perm[c%len(perm)]].Coordinates
	}
	return out
}

// balancedAssign runs the inner loop: every item goes to the nearest centroid
// that still has room, or to the relatively least loaded cluster when none has.
func balancedAssign(
	items []Item,
	order []int,
	centroids []domain.Coordinates,
	limits []float64,
	metric string,
	capFactor float64,
	maxIter int,
	rng *rand.Rand,
) ([]int, []domain.Coordinates) {
	n := len(centroids)
	assign := make([]int, len(items))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		loads := make([]float64, n)
		next := make([]int, len(items))

		for _, i := range order {
			m := items[i].Metric(metric)
			best := -1
			bestDist := math.Inf(1)
			for c := range n {
				if loads[c]+m > limits[c]*capFactor {
					continue
				}
				if d := haversine(items[i].Coordinates, centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if best == -1 {
				best = leastLoaded(loads, limits)
			}
			next[i] = best
			loads[best] += m
		}

		changed := !slices.Equal(next, assign)
		assign = next

		groups := groupsOf(assign, n)
		for c, members := range groups {
			if len(members) == 0 {
				centroids[c] = items[rng.IntN(len(items))].Coordinates
				continue
			}
			centroids[c] = centroid(items, members)
		}

		if !changed {
			break
		}
	}
	return assign, centroids
}

func leastLoaded(loads, limits []float64) int {
	best := 0
	bestRatio := math.Inf(1)
	for c := range loads {
		r := loads[c] / math.Max(limits[c], 1e-9)
		if r < bestRatio {
			best, bestRatio = c, r
		}
	}
	return best
}

// clusteringScore is Σ(distance to centroid × balance penalty). The penalty
// grows with the spread between the most and least loaded cluster relative to
// their limits; empty clusters make a result degenerate.
func clusteringScore(items []Item, assign []int, centroids []domain.Coordinates, limits []float64, metric string) float64 {
	n := len(centroids)
	loads := make([]float64, n)
	counts := make([]int, n)
	for i, c := range assign {
		loads[c] += items[i].Metric(metric)
		counts[c]++
	}

	minR, maxR := math.Inf(1), math.Inf(-1)
	empty := 0
	for c := range n {
		if counts[c] == 0 {
			empty++
		}
		r := loads[c] / math.Max(limits[c], 1e-9)
		minR = math.Min(minR, r)
		maxR = math.Max(maxR, r)
	}
	penalty := 1 + 10*(maxR-minR)

	var score float64
	for i, c := range assign {
		score += (haversine(items[i].Coordinates, centroids[c]) + 1) * penalty
	}
	return score + float64(empty)*emptyClusterPenalty
}

package clustering

import (
	"fmt"
	"math"
	"route-decomposition-service/internal/domain"
	"slices"
)

// AssignResources distributes resources over clusters, minimizing the summed
// distance from each resource depot to the cluster members. A resource that
// cannot serve every item of a cluster gets a penalty far above any distance.
// With onePerCluster each cluster receives exactly one resource; otherwise
// resources are shared out in proportion to each cluster's metric.
func AssignResources(
	inst *domain.ProblemInstance,
	items []Item,
	clusters [][]int,
	metric string,
	onePerCluster bool,
	opts Options,
) [][]string {
	opts = opts.normalized()
	out := make([][]string, len(clusters))
	if len(inst.Resources) == 0 || len(clusters) == 0 {
		return out
	}

	locs := inst.LocationIndex()
	penalty := opts.IncompatibilityFactor * (maxPairwiseDistance(inst, items) + 1)

	cost := make([][]float64, len(inst.Resources))
	for r, res := range inst.Resources {
		depots := depotsOf(res, locs)
		cost[r] = make([]float64, len(clusters))
		for c, members := range clusters {
			for _, i := range members {
				for _, d := range depots {
					cost[r][c] += haversine(d, items[i].Coordinates)
				}
				if !servesItem(res, items[i]) {
					cost[r][c] += penalty
				}
			}
		}
	}

	quota := quotas(items, clusters, metric, len(inst.Resources), onePerCluster)
	used := make([]bool, len(inst.Resources))

	// Regret greedy: the cluster that would lose the most by not getting its
	// best remaining resource is served first.
	for {
		pickC, pickR := -1, -1
		bestRegret := math.Inf(-1)
		for c := range clusters {
			if len(out[c]) >= quota[c] {
				continue
			}
			first, second := -1, -1
			for r := range inst.Resources {
				if used[r] {
					continue
				}
				switch {
				case first == -1 || cost[r][c] < cost[first][c]:
					first, second = r, first
				case second == -1 || cost[r][c] < cost[second][c]:
					second = r
				}
			}
			if first == -1 {
				continue
			}
			regret := math.Inf(1)
			if second != -1 {
				regret = cost[second][c] - cost[first][c]
			}
			if regret > bestRegret {
				bestRegret, pickC, pickR = regret, c, first
			}
		}
		if pickC == -1 {
			break
		}
		used[pickR] = true
		out[pickC] = append(out[pickC], inst.Resources[pickR].ID)
	}

	if onePerCluster {
		return out
	}
	// Rounding leftovers go to their cheapest non-empty cluster.
	for r := range inst.Resources {
		if used[r] {
			continue
		}
		target := -1
		for c, members := range clusters {
			if len(members) > 0 && (target == -1 || cost[r][c] < cost[r][target]) {
				target = c
			}
		}
		if target >= 0 {
			used[r] = true
			out[target] = append(out[target], inst.Resources[r].ID)
		}
	}
	return out
}

func quotas(items []Item, clusters [][]int, metric string, resources int, onePerCluster bool) []int {
	q := make([]int, len(clusters))
	if onePerCluster {
		for c := range q {
			q[c] = 1
		}
		return q
	}

	total := 0.0
	for _, members := range clusters {
		total += clusterMetric(items, members, metric)
	}
	assigned := 0
	for c, members := range clusters {
		if len(members) == 0 {
			continue
		}
		share := 1.0 / float64(len(clusters))
		if total > 0 {
			share = clusterMetric(items, members, metric) / total
		}
		q[c] = max(1, int(math.Round(share*float64(resources))))
		assigned += q[c]
	}
	// Trim the largest quotas when rounding overshoots.
	for assigned > resources {
		c := slices.Index(q, slices.Max(q))
		if q[c] <= 1 {
			break
		}
		q[c]--
		assigned--
	}
	return q
}

func servesItem(r domain.Resource, it Item) bool {
	if len(it.PinnedResourceIDs) > 0 {
		return slices.Contains(it.PinnedResourceIDs, r.BaseID()) || slices.Contains(it.PinnedResourceIDs, r.ID)
	}
	return domain.Covers(r.Skills, it.Skills)
}

func depotsOf(r domain.Resource, locs map[string]domain.Location) []domain.Coordinates {
	var out []domain.Coordinates
	for _, id := range []string{r.StartLocationID, r.EndLocationID} {
		if l, ok := locs[id]; ok && id != "" {
			out = append(out, l.Coordinates)
		}
	}
	return out
}

func maxPairwiseDistance(inst *domain.ProblemInstance, items []Item) float64 {
	points := make([]domain.Coordinates, 0, len(items)+2*len(inst.Resources))
	for _, it := range items {
		points = append(points, it.Coordinates)
	}
	locs := inst.LocationIndex()
	for _, r := range inst.Resources {
		points = append(points, depotsOf(r, locs)...)
	}
	best := 0.0
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			best = math.Max(best, haversine(points[i], points[j]))
		}
	}
	return best
}

// ExpandWorkDays replaces every resource by one variant per working weekday.
// Variants are named "<id>_<day>" and keep the original id. Resources and
// missions receive day skills so that missions restricted to some weekdays
// only match variants working on one of them.
func ExpandWorkDays(inst *domain.ProblemInstance) *domain.ProblemInstance {
	out := inst.Clone()

	var resources []domain.Resource
	for _, r := range inst.Resources {
		for _, day := range workDays(r) {
			v := r.Clone()
			v.ID = fmt.Sprintf("%s_%d", r.ID, day)
			v.OriginalID = r.BaseID()
			tw, _ := r.WindowOn(day)
			tw.DayIndex = domain.IntPtr(day)
			v.TimeWindow = &tw
			v.SequenceTimeWindows = nil
			v.Skills = withDaySkills(v.Skills, daysExcept([]int{day}))
			resources = append(resources, v)
		}
	}
	out.Resources = resources

	for i, m := range out.Missions {
		days := m.MissionDays()
		if days == nil {
			continue
		}
		for _, d := range daysExcept(days) {
			out.Missions[i].Skills = append(out.Missions[i].Skills, domain.DaySkill(d))
		}
	}

	routes := out.InitialRoutes[:0]
	for _, r := range out.InitialRoutes {
		r.ResourceID = fmt.Sprintf("%s_%d", r.ResourceID, r.Day%7)
		if _, ok := out.Resource(r.ResourceID); ok {
			routes = append(routes, r)
		}
	}
	out.InitialRoutes = routes
	return out
}

func workDays(r domain.Resource) []int {
	var days []int
	for d := range 7 {
		if _, ok := r.WindowOn(d); ok {
			days = append(days, d)
		}
	}
	return days
}

func daysExcept(keep []int) []int {
	var out []int
	for d := range 7 {
		if !slices.Contains(keep, d) {
			out = append(out, d)
		}
	}
	return out
}

func withDaySkills(alternatives [][]string, days []int) [][]string {
	tags := make([]string, len(days))
	for i, d := range days {
		tags[i] = domain.DaySkill(d)
	}
	if len(alternatives) == 0 {
		return [][]string{tags}
	}
	out := make([][]string, len(alternatives))
	for i, alt := range alternatives {
		out[i] = append(slices.Clone(alt), tags...)
	}
	return out
}

package clustering

import (
	"fmt"
	"math"
	"route-decomposition-service/internal/domain"
	"slices"
)

// Split applies one partition phase to inst and returns one independent
// instance per non-empty cluster, each with its resources, a share of the
// resolution budget proportional to its visits, the remaining partition
// phases and a hint restricting first solutions to the cluster's skills.
func Split(inst *domain.ProblemInstance, arena *domain.Arena, part domain.Partition, opts Options) ([]*domain.ProblemInstance, error) {
	switch part.Method {
	case domain.PartitionBalancedKMeans, domain.PartitionHierarchicalTree:
	default:
		return nil, &domain.ConfigError{Field: "partition.method", Value: string(part.Method), Err: domain.ErrUnknownPartitionMethod}
	}

	work := inst
	n := part.Clusters
	switch part.Entity {
	case domain.EntityNone:
		if n <= 0 {
			n = 2
		}
	case domain.EntityVehicle:
		n = len(inst.Resources)
	case domain.EntityWorkDay:
		work = ExpandWorkDays(inst)
		n = len(work.Resources)
	default:
		return nil, &domain.ConfigError{Field: "partition.entity", Value: string(part.Entity), Err: domain.ErrUnknownPartitionEntity}
	}

	rest := slices.Clone(work.Configuration.Preprocessing.Partitions)
	if len(rest) > 0 {
		rest = rest[1:]
	}

	items := CollectItems(work)
	if n <= 1 || len(items) <= 1 {
		out := work.Clone()
		out.Configuration.Preprocessing.Partitions = rest
		return []*domain.ProblemInstance{out}, nil
	}

	metric := part.Metric
	if metric == "" {
		metric = domain.MetricDuration
	}
	if totalMetric(items, metric) == 0 {
		metric = domain.MetricVisits
	}

	entityBased := part.Entity != domain.EntityNone
	limits, seeds := clusterLimits(work, items, metric, n, entityBased)

	var clusters [][]int
	switch part.Method {
	case domain.PartitionBalancedKMeans:
		clusters = BalancedKMeans(items, limits, metric, seeds, opts)
	case domain.PartitionHierarchicalTree:
		clusters = HierarchicalTree(items, n, metric)
	}

	resources := AssignResources(work, items, clusters, metric, entityBased, opts)
	return buildPartials(work, arena, items, clusters, resources, rest)
}

// BisectMissions splits the missions of inst in two duration-balanced groups.
// The larger group comes first. A single group is returned when clustering
// could not produce two non-empty ones.
func BisectMissions(inst *domain.ProblemInstance, opts Options) [][]string {
	items := CollectItems(inst)
	metric := domain.MetricDuration
	if totalMetric(items, metric) == 0 {
		metric = domain.MetricVisits
	}
	half := totalMetric(items, metric) / 2
	clusters := BalancedKMeans(items, []float64{half, half}, metric, nil, opts)

	var out [][]string
	for _, members := range clusters {
		if len(members) == 0 {
			continue
		}
		var ids []string
		for _, i := range members {
			ids = append(ids, items[i].MissionIDs...)
		}
		out = append(out, ids)
	}
	if len(out) == 2 {
		a := clusterMetric(items, clusters[0], metric)
		b := clusterMetric(items, clusters[1], metric)
		if b > a {
			out[0], out[1] = out[1], out[0]
		}
	}
	return out
}

// clusterLimits returns the target load of each cluster. Entity-based splits
// give each cluster the share of the resource it is seeded from.
func clusterLimits(inst *domain.ProblemInstance, items []Item, metric string, n int, entityBased bool) ([]float64, []domain.Coordinates) {
	total := totalMetric(items, metric)
	limits := make([]float64, n)
	if !entityBased {
		for c := range limits {
			limits[c] = total / float64(n)
		}
		return limits, nil
	}

	locs := inst.LocationIndex()
	seeds := make([]domain.Coordinates, n)
	var work float64
	for _, r := range inst.Resources {
		work += float64(r.WorkTime())
	}
	for c, r := range inst.Resources {
		share := 1.0 / float64(n)
		if work > 0 {
			share = float64(r.WorkTime()) / work
		}
		limits[c] = total * share
		if d := depotsOf(r, locs); len(d) > 0 {
			seeds[c] = d[0]
		}
	}
	return limits, seeds
}

func buildPartials(
	work *domain.ProblemInstance,
	arena *domain.Arena,
	items []Item,
	clusters [][]int,
	resources [][]string,
	rest []domain.Partition,
) ([]*domain.ProblemInstance, error) {
	// Resources of clusters left without missions join the cluster with the fewest resources.
	var orphans []string
	for c, members := range clusters {
		if len(members) == 0 {
			orphans = append(orphans, resources[c]...)
			resources[c] = nil
		}
	}
	for _, id := range orphans {
		target := -1
		for c, members := range clusters {
			if len(members) == 0 {
				continue
			}
			if target == -1 || len(resources[c]) < len(resources[target]) {
				target = c
			}
		}
		if target >= 0 {
			resources[target] = append(resources[target], id)
		}
	}

	totalVisits := work.Visits()
	totalResources := len(work.Resources)
	res := work.Configuration.Resolution

	var out []*domain.ProblemInstance
	for c, members := range clusters {
		if len(members) == 0 {
			continue
		}
		var missionIDs []string
		var skills []string
		for _, i := range members {
			missionIDs = append(missionIDs, items[i].MissionIDs...)
			skills = append(skills, items[i].Skills...)
		}

		sub := work.Partial(missionIDs, resources[c])
		if arena != nil {
			if err := arena.Hydrate(sub); err != nil {
				return nil, fmt.Errorf("split cluster %d: %w", c, err)
			}
		}
		sub.Configuration.Preprocessing.Partitions = slices.Clone(rest)
		sub.Configuration.Preprocessing.RestrictedSkills = domain.NormalizeSkills(skills)
		sub.ScaleBudget(float64(sub.Visits()), float64(totalVisits))
		if res.ResourceLimit > 0 && totalResources > 0 {
			share := float64(len(sub.Resources)) / float64(totalResources)
			sub.Configuration.Resolution.ResourceLimit = min(len(sub.Resources), int(math.Ceil(share*float64(res.ResourceLimit))))
		}
		out = append(out, sub)
	}
	return out, nil
}

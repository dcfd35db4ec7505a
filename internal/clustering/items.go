package clustering

import (
	"route-decomposition-service/internal/domain"
	"strings"
)

// Item is the clustering unit: the missions sharing a location, a skill set
// and a set of pinned resources.
type Item struct {
	ID                string
	LocationID        string
	Coordinates       domain.Coordinates
	MissionIDs        []string
	Metrics           map[string]float64
	Skills            []string
	PinnedResourceIDs []string
}

func (it Item) Metric(name string) float64 { return it.Metrics[name] }

// CollectItems aggregates missions into items in first-appearance order.
// Duration, visits and every unit quantity are summed over all visits.
func CollectItems(inst *domain.ProblemInstance) []Item {
	locs := inst.LocationIndex()
	index := map[string]int{}
	var items []Item

	for _, m := range inst.Missions {
		skills := domain.NormalizeSkills(m.Skills)
		pinned := domain.NormalizeSkills(m.PinnedResourceIDs)
		key := m.LocationID + "|" + strings.Join(skills, ",") + "|" + strings.Join(pinned, ",")

		i, ok := index[key]
		if !ok {
			i = len(items)
			index[key] = i
			items = append(items, Item{
				ID:                key,
				LocationID:        m.LocationID,
				Coordinates:       locs[m.LocationID].Coordinates,
				Metrics:           map[string]float64{},
				Skills:            skills,
				PinnedResourceIDs: pinned,
			})
		}

		visits := float64(m.Visits())
		it := &items[i]
		it.MissionIDs = append(it.MissionIDs, m.ID)
		it.Metrics[domain.MetricDuration] += float64(m.Duration) * visits
		it.Metrics[domain.MetricVisits] += visits
		for _, q := range m.Quantities {
			it.Metrics[q.UnitID] += q.Value * visits
		}
	}
	return items
}

func totalMetric(items []Item, metric string) float64 {
	var total float64
	for _, it := range items {
		total += it.Metric(metric)
	}
	return total
}

func haversine(a, b domain.Coordinates) float64 { return a.DistanceTo(b) }

func centroid(items []Item, members []int) domain.Coordinates {
	var c domain.Coordinates
	if len(members) == 0 {
		return c
	}
	for _, i := range members {
		c.Lat += items[i].Coordinates.Lat
		c.Lon += items[i].Coordinates.Lon
	}
	c.Lat /= float64(len(members))
	c.Lon /= float64(len(members))
	return c
}

func groupsOf(assign []int, n int) [][]int {
	out := make([][]int, n)
	for i, c := range assign {
		out[c] = append(out[c], i)
	}
	return out
}

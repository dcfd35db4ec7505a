package services

import (
	"route-decomposition-service/internal/domain"
	"slices"
)

// SkillPartitionOptions tunes PartitionBySkills.
type SkillPartitionOptions struct {
	// IsolateUntagged moves missions without skills into a mission-only
	// instance instead of skipping the partition.
	IsolateUntagged bool
}

// PartitionBySkills splits inst into independent instances, one per group of
// resources serving a disjoint set of mission skill combinations. Resources
// matching no mission end up in a final mission-less instance. Missions no
// resource can serve go to a resource-less instance. Each instance receives a
// share of the resolution budget proportional to missions × max(1, resources),
// or to resources alone when every mission is pinned.
//
// The input is returned unchanged (as a single element) when partitioning
// does not apply.
func PartitionBySkills(inst *domain.ProblemInstance, opts SkillPartitionOptions) []*domain.ProblemInstance {
	if !skillPartitionApplies(inst, opts) {
		return []*domain.ProblemInstance{inst}
	}

	// Union-find over resource indices.
	parent := make([]int, len(inst.Resources))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		if ra, rb := find(a), find(b); ra != rb {
			parent[max(ra, rb)] = min(ra, rb)
		}
	}

	compatible := map[string][]int{}
	var keys []string
	for _, m := range inst.Missions {
		if len(m.Skills) == 0 {
			continue
		}
		key := domain.SkillKey(m.Skills)
		if _, ok := compatible[key]; ok {
			continue
		}
		keys = append(keys, key)
		var rs []int
		for r, res := range inst.Resources {
			if domain.Covers(res.Skills, m.Skills) {
				rs = append(rs, r)
			}
		}
		compatible[key] = rs
	}
	linkResourceRelations(inst, keys, compatible)
	for _, key := range keys {
		rs := compatible[key]
		for _, r := range rs[min(1, len(rs)):] {
			union(rs[0], r)
		}
	}

	type group struct {
		missions  []string
		resources []string
	}
	groups := map[int]*group{}
	var order []int
	var isolated []string
	matched := make([]bool, len(inst.Resources))

	for _, m := range inst.Missions {
		if len(m.Skills) == 0 {
			isolated = append(isolated, m.ID)
			continue
		}
		rs := compatible[domain.SkillKey(m.Skills)]
		if len(rs) == 0 {
			isolated = append(isolated, m.ID)
			continue
		}
		root := find(rs[0])
		g, ok := groups[root]
		if !ok {
			g = &group{}
			groups[root] = g
			order = append(order, root)
		}
		g.missions = append(g.missions, m.ID)
		for _, r := range rs {
			matched[r] = true
		}
	}
	for r, res := range inst.Resources {
		if !matched[r] {
			continue
		}
		if g, ok := groups[find(r)]; ok {
			g.resources = append(g.resources, res.ID)
		}
	}

	var leftovers []string
	for r, res := range inst.Resources {
		if !matched[r] {
			leftovers = append(leftovers, res.ID)
		}
	}

	var parts [][2][]string
	for _, root := range order {
		parts = append(parts, [2][]string{groups[root].missions, groups[root].resources})
	}
	if len(isolated) > 0 {
		parts = append(parts, [2][]string{isolated, nil})
	}
	if len(leftovers) > 0 {
		parts = append(parts, [2][]string{nil, leftovers})
	}

	sticky := !slices.ContainsFunc(inst.Missions, func(m domain.Mission) bool { return len(m.PinnedResourceIDs) == 0 })
	weights := make([]float64, len(parts))
	var total float64
	for i, p := range parts {
		if len(p[0]) == 0 {
			continue
		}
		if sticky {
			weights[i] = float64(len(p[1]))
		} else {
			weights[i] = float64(len(p[0]) * max(1, len(p[1])))
		}
		total += weights[i]
	}

	out := make([]*domain.ProblemInstance, 0, len(parts))
	res := inst.Configuration.Resolution
	for i, p := range parts {
		sub := inst.Partial(p[0], p[1])
		sub.ScaleBudget(weights[i], total)
		if res.ResourceLimit > 0 {
			sub.Configuration.Resolution.ResourceLimit = min(res.ResourceLimit, len(sub.Resources))
		}
		out = append(out, sub)
	}
	return out
}

// linkResourceRelations keeps the resources of a relation together: once one
// of them serves a skill combination, all of them are counted as serving it.
func linkResourceRelations(inst *domain.ProblemInstance, keys []string, compatible map[string][]int) {
	index := make(map[string]int, len(inst.Resources))
	for r, res := range inst.Resources {
		index[res.ID] = r
	}
	for _, rel := range inst.Relations {
		var linked []int
		for _, id := range rel.LinkedResourceIDs {
			if r, ok := index[id]; ok {
				linked = append(linked, r)
			}
		}
		if len(linked) == 0 {
			continue
		}
		for _, key := range keys {
			rs := compatible[key]
			if !slices.ContainsFunc(linked, func(r int) bool { return slices.Contains(rs, r) }) {
				continue
			}
			for _, r := range linked {
				if !slices.Contains(rs, r) {
					rs = append(rs, r)
				}
			}
			slices.Sort(rs)
			compatible[key] = rs
		}
	}
}

func skillPartitionApplies(inst *domain.ProblemInstance, opts SkillPartitionOptions) bool {
	if len(inst.Resources) <= 1 || len(inst.Missions) == 0 || inst.HasTripRelation() {
		return false
	}
	tagged := 0
	for _, m := range inst.Missions {
		if len(m.Skills) > 0 {
			tagged++
		}
	}
	if tagged == 0 || (tagged < len(inst.Missions) && !opts.IsolateUntagged) {
		return false
	}
	for _, r := range inst.Resources {
		if len(r.Skills) > 1 {
			return false
		}
	}
	return true
}

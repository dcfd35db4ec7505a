package periodic

import (
	"iter"
	"slices"
	"sort"
)

// lapseBounds returns the allowed spacing in days between two visits.
// Distinct days are always required.
func lapseBounds(minLapse, maxLapse *int) (int, int) {
	lo, hi := 1, -1
	if minLapse != nil && *minLapse > lo {
		lo = *minLapse
	}
	if maxLapse != nil {
		hi = *maxLapse
	}
	return lo, hi
}

// DaysRespectingLapse keeps the days whose distance to the closest used day
// lies within the lapse bounds, closest first. Without used days every day is
// returned in order. A negative maxLapse means unbounded.
func DaysRespectingLapse(days, used []int, minLapse, maxLapse int) []int {
	if len(used) == 0 {
		return slices.Clone(days)
	}
	type ranked struct{ day, dist int }
	var out []ranked
	for _, d := range days {
		dist := -1
		for _, u := range used {
			if diff := abs(u - d); dist < 0 || diff < dist {
				dist = diff
			}
		}
		if dist < minLapse || (maxLapse >= 0 && dist > maxLapse) {
			continue
		}
		out = append(out, ranked{d, dist})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].dist < out[j].dist })

	res := make([]int, len(out))
	for i, r := range out {
		res[i] = r.day
	}
	return res
}

// DaySequences yields every increasing sequence of visits days taken from
// days whose consecutive gaps lie within the lapse bounds. A negative
// maxLapse means unbounded. Each yielded slice is owned by the caller.
func DaySequences(days []int, visits, minLapse, maxLapse int) iter.Seq[[]int] {
	sorted := slices.Clone(days)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	return func(yield func([]int) bool) {
		if visits <= 0 {
			return
		}
		seq := make([]int, 0, visits)
		var walk func(from int) bool
		walk = func(from int) bool {
			if len(seq) == visits {
				return yield(slices.Clone(seq))
			}
			for i := from; i < len(sorted); i++ {
				d := sorted[i]
				if n := len(seq); n > 0 {
					gap := d - seq[n-1]
					if gap < minLapse {
						continue
					}
					if maxLapse >= 0 && gap > maxLapse {
						break
					}
				}
				if len(sorted)-i < visits-len(seq) {
					break
				}
				seq = append(seq, d)
				if !walk(i + 1) {
					return false
				}
				seq = seq[:len(seq)-1]
			}
			return true
		}
		walk(0)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

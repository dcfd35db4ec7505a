package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// NormalizeSkills returns sorted unique skills.
func NormalizeSkills(skills []string) []string {
	out := slices.Clone(skills)
	sort.Strings(out)
	return slices.Compact(out)
}

// SkillKey is a stable key for a skill set.
func SkillKey(skills []string) string {
	return strings.Join(NormalizeSkills(skills), ",")
}

// Covers reports whether one of the alternatives contains every required skill.
func Covers(alternatives [][]string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, alt := range alternatives {
		if containsAll(alt, required) {
			return true
		}
	}
	return false
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// Serves reports whether r may be assigned m. Pinned resources take precedence
// over skills.
func (r Resource) Serves(m Mission) bool {
	if len(m.PinnedResourceIDs) > 0 {
		return slices.Contains(m.PinnedResourceIDs, r.BaseID()) || slices.Contains(m.PinnedResourceIDs, r.ID)
	}
	return Covers(r.Skills, m.Skills)
}

// DaySkill tags entities that must not be used on the given weekday.
func DaySkill(day int) string {
	return fmt.Sprintf("not_day_skill_%d", day)
}

// MissionDays returns the weekdays a mission may be visited on. Nil means any day.
func (m Mission) MissionDays() []int {
	var days []int
	for _, tw := range m.TimeWindows {
		if tw.DayIndex == nil {
			return nil
		}
		days = append(days, *tw.DayIndex)
	}
	sort.Ints(days)
	return slices.Compact(days)
}

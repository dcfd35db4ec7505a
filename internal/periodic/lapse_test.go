package periodic

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDaysRespectingLapse(t *testing.T) {
	days := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	assert.Equal(t, days, DaysRespectingLapse(days, nil, 2, 5))
	assert.Equal(t, []int{2, 3, 4, 5}, DaysRespectingLapse(days, []int{0}, 2, 5))
	// closest to an already used day first
	assert.Equal(t, []int{2, 6, 7, 8, 9}, DaysRespectingLapse(days, []int{0, 4}, 2, -1))
}

func TestDaySequences(t *testing.T) {
	got := slices.Collect(DaySequences([]int{4, 0, 2, 3, 6}, 3, 2, 3))
	assert.Equal(t, [][]int{{0, 2, 4}, {0, 3, 6}, {2, 4, 6}}, got)

	assert.Equal(t, [][]int{{1}, {5}}, slices.Collect(DaySequences([]int{5, 1}, 1, 1, -1)))
	assert.Empty(t, slices.Collect(DaySequences([]int{0, 1}, 3, 1, -1)))
}

func TestDaySequences_StopsEarly(t *testing.T) {
	n := 0
	for range DaySequences([]int{0, 1, 2, 3, 4, 5, 6, 7}, 2, 1, -1) {
		if n++; n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

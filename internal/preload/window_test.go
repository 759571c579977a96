package preload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWindowBasic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		current int
		total   int
		radius  int
		want    []int
	}{
		{"empty sequence", 0, 0, 2, []int{}},
		{"negative total", 3, -1, 2, []int{}},
		{"single item", 0, 1, 2, []int{0}},
		{"zero radius", 2, 5, 0, []int{2}},
		{"middle of sequence", 5, 10, 2, []int{5, 6, 4, 7, 3}},
		{"wrap at start", 0, 5, 2, []int{0, 1, 4, 2, 3}},
		{"wrap at end", 4, 5, 2, []int{4, 0, 3, 1, 2}},
		{"radius covers everything", 1, 4, 5, []int{1, 2, 0, 3}},
		{"next before previous", 1, 4, 1, []int{1, 2, 0}},
		{"even total full cover", 0, 4, 2, []int{0, 1, 3, 2}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ComputeWindow(tt.current, tt.total, tt.radius))
		})
	}
}

func TestComputeWindowNormalizesCursor(t *testing.T) {
	t.Parallel()
	// Out-of-range cursors wrap around the circular sequence.
	assert.Equal(t, ComputeWindow(1, 5, 1), ComputeWindow(6, 5, 1))
	assert.Equal(t, ComputeWindow(4, 5, 1), ComputeWindow(-1, 5, 1))
}

func TestComputeWindowNegativeRadius(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []int{3}, ComputeWindow(3, 10, -2))
}

func TestComputeWindowInvariants(t *testing.T) {
	t.Parallel()
	circularDistance := func(a, current, total int) int {
		d := a - current
		if d < 0 {
			d = -d
		}
		if total-d < d {
			d = total - d
		}
		return d
	}

	for total := 1; total <= 12; total++ {
		for radius := 0; radius <= 6; radius++ {
			for current := 0; current < total; current++ {
				window := ComputeWindow(current, total, radius)

				expectedSize := min(total, 2*radius+1)
				require.Len(t, window, expectedSize,
					"total=%d radius=%d current=%d", total, radius, current)
				require.Equal(t, current, window[0], "cursor index must come first")

				seen := make(map[int]struct{}, len(window))
				prevDist := -1
				for _, idx := range window {
					require.GreaterOrEqual(t, idx, 0)
					require.Less(t, idx, total)
					_, dup := seen[idx]
					require.False(t, dup, "duplicate index %d", idx)
					seen[idx] = struct{}{}

					dist := circularDistance(idx, current, total)
					require.GreaterOrEqual(t, dist, prevDist,
						"window must be ordered by non-decreasing circular distance")
					prevDist = dist
				}
			}
		}
	}
}

package preload

// ComputeWindow returns the distinct sequence indices to preload around the
// cursor, treating the sequence as circular. The cursor index comes first,
// followed by alternating next/previous neighbors at growing distance, so the
// result is ordered by ascending circular distance with the next neighbor
// winning ties. The result size is min(total, 2*radius+1).
//
// A non-positive total yields an empty window.
func ComputeWindow(current, total, radius int) []int {
	if total <= 0 {
		return []int{}
	}
	if radius < 0 {
		radius = 0
	}

	// Normalize the cursor into range; Go's % keeps the sign of the dividend.
	current = ((current % total) + total) % total

	window := make([]int, 0, min(total, 2*radius+1))
	seen := make(map[int]struct{}, cap(window))

	push := func(idx int) {
		if _, dup := seen[idx]; dup {
			return
		}
		seen[idx] = struct{}{}
		window = append(window, idx)
	}

	push(current)
	for i := 1; i <= radius && len(window) < total; i++ {
		push((current + i) % total)
		push((current - i + total) % total)
	}

	return window
}

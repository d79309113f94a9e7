package service

import "github.com/vogiaan1904/runbattle/internal/models"

// ConsecutiveRatingStrategy slices a rating-ordered pool into neighbouring
// groups of the pool's group size. A window is skipped one entry at a time
// while its rating spread exceeds MaxSpread. A MaxSpread of zero or less
// disables the spread check.
type ConsecutiveRatingStrategy struct {
	MaxSpread int
}

func (st ConsecutiveRatingStrategy) Group(key models.CriteriaKey, pool []models.QueueEntry) [][]models.QueueEntry {
	size := key.GroupSize
	if size < 2 {
		return nil
	}

	var groups [][]models.QueueEntry
	for i := 0; i+size <= len(pool); {
		window := pool[i : i+size]
		if st.MaxSpread > 0 && window[size-1].Rating-window[0].Rating > st.MaxSpread {
			i++
			continue
		}

		group := make([]models.QueueEntry, size)
		copy(group, window)
		groups = append(groups, group)
		i += size
	}

	return groups
}

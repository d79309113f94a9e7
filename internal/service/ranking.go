package service

import (
	"math"
	"sort"

	"github.com/vogiaan1904/runbattle/internal/models"
)

// rankLess orders finished runners before unfinished ones, finished runners
// by finish time and the rest by distance covered. User id breaks ties.
func rankLess(a, b models.LiveParticipantState) bool {
	if a.IsFinished != b.IsFinished {
		return a.IsFinished
	}
	if a.IsFinished {
		if a.FinishMs != b.FinishMs {
			return a.FinishMs < b.FinishMs
		}
	} else if a.DistanceM != b.DistanceM {
		return a.DistanceM > b.DistanceM
	}
	return a.UserID < b.UserID
}

func buildRankings(states []models.LiveParticipantState, targetM float64) []models.RankingEntry {
	sorted := make([]models.LiveParticipantState, len(states))
	copy(sorted, states)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rankLess(sorted[i], sorted[j])
	})

	entries := make([]models.RankingEntry, 0, len(sorted))
	for i, st := range sorted {
		entries = append(entries, models.RankingEntry{
			Rank:        i + 1,
			UserID:      st.UserID,
			DisplayName: st.DisplayName,
			DistanceM:   st.DistanceM,
			RemainingM:  math.Max(0, targetM-st.DistanceM),
			Progress:    progress(st.DistanceM, targetM),
			Pace:        st.Pace,
			IsFinished:  st.IsFinished,
			FinishMs:    st.FinishMs,
		})
	}

	return entries
}

func progress(distanceM, targetM float64) float64 {
	if targetM <= 0 {
		return 0
	}
	p := math.Min(100, distanceM/targetM*100)
	return math.Round(p*10) / 10
}

package service

import (
	"context"
	"math"

	"github.com/vogiaan1904/runbattle/pkg/logger"
)

// ratingFor falls back to def when the provider is missing or fails.
func ratingFor(ctx context.Context, rp RatingProvider, l logger.Logger, uID string, bucket, def int) int {
	if rp == nil {
		return def
	}

	r, err := rp.RatingFor(ctx, uID, bucket)
	if err != nil {
		l.Warnf(ctx, "service.ratingFor user_id=%s bucket=%d: %v", uID, bucket, err)
		return def
	}
	if r <= 0 {
		return def
	}

	return r
}

// eloUpdate applies a multi-player Elo update. Every pair of players counts as
// one game decided by rank; equal ranks are a draw. The K factor is spread
// over the n-1 opponents.
func eloUpdate(ratings, ranks []int, k int) []int {
	n := len(ratings)
	out := make([]int, n)
	copy(out, ratings)
	if n < 2 {
		return out
	}

	perGame := float64(k) / float64(n-1)
	for i := 0; i < n; i++ {
		delta := 0.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}

			expected := 1 / (1 + math.Pow(10, float64(ratings[j]-ratings[i])/400))
			actual := 0.5
			switch {
			case ranks[i] < ranks[j]:
				actual = 1
			case ranks[i] > ranks[j]:
				actual = 0
			}
			delta += perGame * (actual - expected)
		}
		out[i] = ratings[i] + int(math.Round(delta))
	}

	return out
}

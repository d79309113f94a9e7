package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/runbattle/internal/models"
)

func seedLive(t *testing.T, repo LiveRepository, bID string, uIDs ...string) time.Time {
	t.Helper()

	start := time.UnixMilli(1_700_000_000_000)
	for _, uID := range uIDs {
		created, err := repo.Initialize(context.Background(), bID, models.LiveParticipantState{
			UserID:      uID,
			DisplayName: "runner " + uID,
			Pace:        "0:00",
			StartTime:   start,
		}, time.Hour)
		require.NoError(t, err)
		require.True(t, created)
	}
	return start
}

func TestLiveInitializeIsIdempotent(t *testing.T) {
	s, cli, l := newTestRedis(t)
	repo := NewRedisLiveRepository(cli, l)
	ctx := context.Background()

	seedLive(t, repo, "b1", "u1")

	_, err := repo.UpdatePosition(ctx, "b1", "u1", PositionUpdate{DistanceM: 300, Pace: "5:00", Fix: models.GPSFix{Time: time.Now()}}, time.Hour)
	require.NoError(t, err)

	created, err := repo.Initialize(ctx, "b1", models.LiveParticipantState{UserID: "u1", StartTime: time.Now()}, time.Hour)
	require.NoError(t, err)
	assert.False(t, created)

	st, err := repo.GetState(ctx, "b1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 300.0, st.DistanceM)
	assert.Equal(t, "runner u1", st.DisplayName)

	assert.True(t, s.TTL("battle:b1:live:u1") > 0)
	assert.True(t, s.TTL("battle:b1:ranking") > 0)
}

func TestLiveUpdateNeverDecreases(t *testing.T) {
	_, cli, l := newTestRedis(t)
	repo := NewRedisLiveRepository(cli, l)
	ctx := context.Background()

	seedLive(t, repo, "b1", "u1")

	out, err := repo.UpdatePosition(ctx, "b1", "u1", PositionUpdate{DistanceM: 1200.5, SpeedMps: 3, Pace: "5:30", Fix: models.GPSFix{Lat: 1, Lng: 2, Time: time.Now()}}, time.Hour)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 1200.5, out.DistanceM)

	out, err = repo.UpdatePosition(ctx, "b1", "u1", PositionUpdate{DistanceM: 900, Pace: "9:99", Fix: models.GPSFix{Time: time.Now()}}, time.Hour)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, 1200.5, out.DistanceM)

	st, err := repo.GetState(ctx, "b1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1200.5, st.DistanceM)
	assert.Equal(t, "5:30", st.Pace)
	require.NotNil(t, st.LastFix)
	assert.Equal(t, 1.0, st.LastFix.Lat)

	_, err = repo.UpdatePosition(ctx, "b1", "ghost", PositionUpdate{DistanceM: 1}, time.Hour)
	assert.ErrorIs(t, err, ErrLiveStateNotFound)
}

func TestLiveMarkFinished(t *testing.T) {
	_, cli, l := newTestRedis(t)
	repo := NewRedisLiveRepository(cli, l)
	ctx := context.Background()

	seedLive(t, repo, "b1", "u1")

	marked, err := repo.MarkFinished(ctx, "b1", "u1", 5000, 1_000)
	require.NoError(t, err)
	assert.False(t, marked, "below target")

	_, err = repo.UpdatePosition(ctx, "b1", "u1", PositionUpdate{DistanceM: 5000, Fix: models.GPSFix{Time: time.Now()}}, time.Hour)
	require.NoError(t, err)

	marked, err = repo.MarkFinished(ctx, "b1", "u1", 5000, 1_500_000)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = repo.MarkFinished(ctx, "b1", "u1", 5000, 1_600_000)
	require.NoError(t, err)
	assert.False(t, marked)

	st, err := repo.GetState(ctx, "b1", "u1")
	require.NoError(t, err)
	assert.True(t, st.IsFinished)
	assert.EqualValues(t, 1_500_000, st.FinishMs)

	_, err = repo.MarkFinished(ctx, "b1", "ghost", 5000, 1)
	assert.ErrorIs(t, err, ErrLiveStateNotFound)
}

func TestLiveRankedAndRemove(t *testing.T) {
	_, cli, l := newTestRedis(t)
	repo := NewRedisLiveRepository(cli, l)
	ctx := context.Background()

	seedLive(t, repo, "b1", "a", "b", "c")
	for uID, d := range map[string]float64{"a": 100, "b": 300, "c": 200} {
		_, err := repo.UpdatePosition(ctx, "b1", uID, PositionUpdate{DistanceM: d, Fix: models.GPSFix{Time: time.Now()}}, time.Hour)
		require.NoError(t, err)
	}

	ranked, err := repo.GetRanked(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].UserID)
	assert.Equal(t, "c", ranked[1].UserID)
	assert.Equal(t, "a", ranked[2].UserID)

	require.NoError(t, repo.RemoveFromRanking(ctx, "b1", "b"))

	// Removed users stay out of the index even when they keep sending samples.
	_, err = repo.UpdatePosition(ctx, "b1", "b", PositionUpdate{DistanceM: 400, Fix: models.GPSFix{Time: time.Now()}}, time.Hour)
	require.NoError(t, err)

	ranked, err = repo.GetRanked(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	states, err := repo.GetStates(ctx, "b1", []string{"b", "nobody"})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 400.0, states[0].DistanceM)
}

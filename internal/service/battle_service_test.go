package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/runbattle/internal/models"
)

func TestCreateBattleValidation(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateBattleInput
		want error
	}{
		{
			name: "unknown kind",
			in:   CreateBattleInput{Kind: "RELAY", TargetDistance: 5, Participants: []ParticipantInput{{UserID: "a"}, {UserID: "b"}}},
			want: ErrInvalidKind,
		},
		{
			name: "zero target",
			in:   CreateBattleInput{Kind: models.BattleKindOnline, Participants: []ParticipantInput{{UserID: "a"}, {UserID: "b"}}},
			want: ErrInvalidTarget,
		},
		{
			name: "duplicate roster",
			in:   CreateBattleInput{Kind: models.BattleKindOnline, TargetDistance: 5, Participants: []ParticipantInput{{UserID: "a"}, {UserID: "a"}}},
			want: ErrNotEnoughRunners,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.battles.CreateBattle(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateBattleRejectsUserInActiveBattle(t *testing.T) {
	r := newRig(t)
	r.createBattle(t, models.BattleKindOnline, 5, "u1", "u2")

	_, err := r.battles.CreateBattle(context.Background(), CreateBattleInput{
		Kind:           models.BattleKindOnline,
		TargetDistance: 5,
		Participants:   []ParticipantInput{{UserID: "u2"}, {UserID: "u3"}},
	})
	assert.ErrorIs(t, err, ErrAlreadyInBattle)
}

func TestCreateBattleWithKnownIDIsIdempotent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	in := CreateBattleInput{
		BattleID:       "recruit-7",
		Kind:           models.BattleKindOffline,
		TargetDistance: 10,
		Participants:   []ParticipantInput{{UserID: "u1"}, {UserID: "u2"}},
	}

	first, err := r.battles.CreateBattle(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "recruit-7", first.Battle.ID)
	assert.Equal(t, 10, first.Battle.DistanceBucket)

	assert.False(t, first.Existing)
	require.Len(t, r.sched.funcs, 1)

	second, err := r.battles.CreateBattle(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.Battle.ID, second.Battle.ID)
	assert.Len(t, second.Participants, 2)
	assert.True(t, second.Existing)
	assert.Len(t, r.sched.funcs, 2, "redelivery re-arms the ready timeout")
}

func TestCreateBattleRedeliveryAfterStartDoesNotRearm(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	in := CreateBattleInput{
		BattleID:       "match-9",
		Kind:           models.BattleKindOnline,
		TargetDistance: 5,
		Participants:   []ParticipantInput{{UserID: "u1"}, {UserID: "u2"}},
	}
	_, err := r.battles.CreateBattle(ctx, in)
	require.NoError(t, err)
	for _, uID := range []string{"u1", "u2"} {
		_, err := r.readiness.ToggleReady(ctx, "match-9", uID, true)
		require.NoError(t, err)
	}
	r.sched.fire()

	out, err := r.battles.CreateBattle(ctx, in)
	require.NoError(t, err)
	assert.True(t, out.Existing)
	assert.Equal(t, models.BattleStatusInProgress, out.Battle.Status)
	assert.Empty(t, r.sched.funcs)
}

func TestCreateBattleRatingFallsBack(t *testing.T) {
	r := newRig(t)
	bs := r.battles.(*battleService)
	bs.rating = fakeRating{ratings: map[string]int{"u1": 1250}}

	b := r.createBattle(t, models.BattleKindOnline, 5, "u1", "u2")

	assert.Equal(t, 1250, r.battleRepo.participant(b.ID, "u1").Rating)
	assert.Equal(t, 1000, r.battleRepo.participant(b.ID, "u2").Rating)
}

func TestOnlineRankingAndAutoComplete(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	b := r.startBattle(t, models.BattleKindOnline, 5, "u1", "u2")
	start := *b.StartedAt

	out, err := r.battles.IngestSample(ctx, b.ID, r.sample("u1", 5000, start.Add(1_500_000*time.Millisecond)))
	require.NoError(t, err)
	require.NotNil(t, out.Position)
	assert.True(t, out.Position.JustCrossed)
	assert.Equal(t, "5:00", out.Position.Pace)
	assert.Empty(t, out.Finish)

	mid, err := r.battles.Rankings(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, mid.Rankings, 2)
	assert.Equal(t, "u1", mid.Rankings[0].UserID)
	assert.EqualValues(t, 1_500_000, mid.Rankings[0].FinishMs)
	assert.Equal(t, 100.0, mid.Rankings[0].Progress)
	assert.False(t, mid.Rankings[1].IsFinished)
	assert.Equal(t, 5000.0, mid.Rankings[1].RemainingM)

	out, err = r.battles.IngestSample(ctx, b.ID, r.sample("u2", 5000, start.Add(1_400_000*time.Millisecond)))
	require.NoError(t, err)
	assert.True(t, out.Position.JustCrossed)
	assert.Equal(t, FinishOutcomeCompleted, out.Finish)

	final, err := r.battles.Rankings(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2", final.Rankings[0].UserID)
	assert.Equal(t, 1, final.Rankings[0].Rank)
	assert.Equal(t, "u1", final.Rankings[1].UserID)

	results, err := r.battles.Results(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "u2", results[0].UserID)
	assert.EqualValues(t, 1_400_000, results[0].Running.TotalTimeMs)
	assert.Equal(t, "4:40", results[0].Running.AvgPace)
	assert.Equal(t, models.RunStatusFinished, results[0].Running.RunStatus)
	assert.Equal(t, models.RunningTypeBattleOnline, results[0].Running.RunningType)
	assert.Equal(t, 1016, results[0].CurrRating)
	assert.Equal(t, 984, results[1].CurrRating)

	_, err = r.battles.IngestSample(ctx, b.ID, r.sample("u1", 5100, start.Add(1_600_000*time.Millisecond)))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestIngestSampleRejections(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	now := r.clock.Now()

	standby := r.createBattle(t, models.BattleKindOnline, 5, "u1", "u2")
	_, err := r.battles.IngestSample(ctx, standby.ID, r.sample("u1", 10, now))
	assert.ErrorIs(t, err, ErrInvalidState)

	b := r.startBattle(t, models.BattleKindOnline, 5, "u3", "u4")
	_, err = r.battles.IngestSample(ctx, b.ID, r.sample("u9", 10, now))
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	_, err = r.battles.IngestSample(ctx, b.ID, r.sample("u3", -1, now))
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = r.battles.IngestSample(ctx, "missing", r.sample("u3", 10, now))
	assert.ErrorIs(t, err, ErrBattleNotFound)
}

func TestOfflineBattleSharesOneResult(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	b := r.startBattle(t, models.BattleKindOffline, 2, "u1", "u2")
	start := *b.StartedAt

	at := func(min int) time.Time { return start.Add(time.Duration(min) * time.Minute) }
	steps := []struct {
		distanceM float64
		minute    int
		crossed   int
	}{
		{500, 3, 0},
		{1000, 6, 1},
		{1000, 6, 0},
		{1800, 9, 0},
		{1200, 7, 0},
		{2050, 12, 2},
	}
	for _, st := range steps {
		out, err := r.battles.IngestSample(ctx, b.ID, r.sample("u1", st.distanceM, at(st.minute)))
		require.NoError(t, err)
		require.NotNil(t, out.Snapshot)
		assert.Equal(t, st.crossed, out.Snapshot.CrossedKm, "distance %.0f", st.distanceM)
	}

	outcome, err := r.readiness.Finish(ctx, b.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, FinishOutcomeCompleted, outcome)

	results, err := r.battles.Results(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, 2050.0, res.Running.TotalDistance)
		assert.EqualValues(t, 720_000, res.Running.TotalTimeMs)
		assert.Equal(t, "5:51", res.Running.AvgPace)
		assert.Equal(t, models.RunStatusFinished, res.Running.RunStatus)
		assert.Equal(t, models.RunningTypeBattleOffline, res.Running.RunningType)
		assert.Equal(t, res.PrevRating, res.CurrRating)
		assert.Equal(t, []models.Split{
			{Km: 1, ElapsedMs: 360_000, Pace: "6:00"},
			{Km: 2, ElapsedMs: 720_000, Pace: "6:00"},
		}, res.Running.Splits)
	}
	assert.NotEqual(t, results[0].Running.ID, results[1].Running.ID)

	outcome, err = r.readiness.Finish(ctx, b.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, FinishOutcomeAlreadyCompleted, outcome)
	assert.Equal(t, 1, r.battleRepo.completeWins)
}

func TestOfflineFinishRejectsStrangerSubmitter(t *testing.T) {
	r := newRig(t)
	b := r.startBattle(t, models.BattleKindOffline, 2, "u1", "u2")

	_, err := r.readiness.Finish(context.Background(), b.ID, "u9")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, BattleRepository) {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock, NewBattleRepository(mock, logger.InitializeTestZapLogger())
}

func TestCreateBattle(t *testing.T) {
	mock, repo := newMock(t)

	b := models.Battle{
		ID:             "b1",
		Kind:           models.BattleKindOnline,
		TargetDistance: 5,
		DistanceBucket: 5,
		Status:         models.BattleStatusStandby,
		CreatedAt:      time.Now(),
	}
	ps := []models.Participant{
		{UserID: "u1", DisplayName: "One", Rating: 1000, Active: true},
		{UserID: "u2", DisplayName: "Two", Rating: 1100, Active: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO battles`).
		WithArgs("b1", "ONLINE", 5.0, 5, "STANDBY", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO battle_participants`).
		WithArgs("b1", "u1", "One", 1000, false, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO battle_participants`).
		WithArgs("b1", "u2", "Two", 1100, false, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), b, ps))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBattle(t *testing.T) {
	mock, repo := newMock(t)

	now := time.Now()
	started := now.Add(time.Minute)
	completed := now.Add(time.Hour)

	mock.ExpectQuery(`SELECT id, kind, target_distance, distance_bucket, status, cancelled, created_at, started_at, completed_at`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "target_distance", "distance_bucket", "status", "cancelled", "created_at", "started_at", "completed_at"}).
			AddRow("b1", "OFFLINE", 10.0, 10, "COMPLETED", false, now, &started, &completed))

	b, err := repo.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BattleKindOffline, b.Kind)
	assert.Equal(t, models.BattleStatusCompleted, b.Status)
	assert.Equal(t, 10000.0, b.TargetMeters())
	require.NotNil(t, b.StartedAt)
	assert.True(t, b.StartedAt.Equal(started))

	mock.ExpectQuery(`SELECT id, kind`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "kind", "target_distance", "distance_bucket", "status", "cancelled", "created_at", "started_at", "completed_at"}))

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParticipantsAndReady(t *testing.T) {
	mock, repo := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT battle_id, user_id, display_name, rating, ready, active`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"battle_id", "user_id", "display_name", "rating", "ready", "active"}).
			AddRow("b1", "u1", "One", 1000, true, true).
			AddRow("b1", "u2", "Two", 1000, false, false))

	ps, err := repo.ListParticipants(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.True(t, models.AllReady(ps))

	mock.ExpectExec(`UPDATE battle_participants SET ready`).
		WithArgs("b1", "u1", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SetReady(ctx, "b1", "u1", true))

	mock.ExpectExec(`UPDATE battle_participants SET ready`).
		WithArgs("b1", "u2", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.SetReady(ctx, "b1", "u2", true), ErrNotFound)

	// A battle that left STANDBY matches no row either.
	mock.ExpectExec(`status = 'STANDBY' FOR SHARE`).
		WithArgs("b1", "u1", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.SetReady(ctx, "b1", "u1", false), ErrNotFound)

	mock.ExpectExec(`UPDATE battle_participants SET active = FALSE`).
		WithArgs("b1", "u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	changed, err := repo.Deactivate(ctx, "b1", "u1")
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateNotReady(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectQuery(`UPDATE battle_participants p SET active = FALSE`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("u3"))

	kicked, err := repo.DeactivateNotReady(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, kicked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartAndCancelCompareAndSet(t *testing.T) {
	mock, repo := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM battles WHERE id = \$1 FOR UPDATE`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("STANDBY"))
	mock.ExpectExec(`UPDATE battles SET status = 'IN_PROGRESS'`).
		WithArgs("b1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	won, err := repo.Start(ctx, "b1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM battles WHERE id = \$1 FOR UPDATE`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("IN_PROGRESS"))
	mock.ExpectRollback()

	won, err = repo.Start(ctx, "b1", time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	mock.ExpectExec(`UPDATE battles SET status = 'COMPLETED', cancelled = TRUE`).
		WithArgs("b2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	won, err = repo.Cancel(ctx, "b2", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRefusesWhileSomeoneIsNotReady(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM battles WHERE id = \$1 FOR UPDATE`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("STANDBY"))
	mock.ExpectExec(`AND NOT EXISTS \(SELECT 1 FROM battle_participants WHERE battle_id = \$1 AND active AND NOT ready\)`).
		WithArgs("b1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	won, err := repo.Start(context.Background(), "b1", time.Now())
	require.NoError(t, err)
	assert.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteWritesResultsOnce(t *testing.T) {
	mock, repo := newMock(t)
	ctx := context.Background()

	results := []models.BattleResult{
		{
			BattleID:   "b1",
			UserID:     "u1",
			Rank:       1,
			PrevRating: 1000,
			CurrRating: 1016,
			Running: models.RunningResult{
				ID:            "rr1",
				UserID:        "u1",
				TotalDistance: 5000,
				TotalTimeMs:   1_400_000,
				AvgPace:       "4:40",
				RunStatus:     models.RunStatusFinished,
				RunningType:   models.RunningTypeBattleOnline,
			},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE battles SET status = 'COMPLETED', completed_at`).
		WithArgs("b1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO running_results`).
		WithArgs("rr1", "u1", 5000.0, int64(1_400_000), "4:40", pgxmock.AnyArg(), "FINISHED", "BATTLE_ONLINE", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO battle_results`).
		WithArgs("b1", "u1", 1, 1000, 1016, "rr1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	won, err := repo.Complete(ctx, "b1", results, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE battles SET status = 'COMPLETED', completed_at`).
		WithArgs("b1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	won, err = repo.Complete(ctx, "b1", results, time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveBattleForUser(t *testing.T) {
	mock, repo := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT b.id FROM battles b`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("b1"))
	mock.ExpectQuery(`SELECT b.id FROM battles b`).
		WithArgs("u2").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	bID, err := repo.ActiveBattleForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b1", bID)

	bID, err = repo.ActiveBattleForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, bID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResults(t *testing.T) {
	mock, repo := newMock(t)

	started := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT br.battle_id, br.user_id, br.rank`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"battle_id", "user_id", "rank", "prev_rating", "curr_rating", "id", "total_distance_m", "total_time_ms", "avg_pace", "splits", "run_status", "running_type", "started_at"}).
			AddRow("b1", "u2", 1, 1000, 1016, "rr2", 5000.0, int64(1_400_000), "4:40", []byte(`[{"km":1,"elapsed_ms":280000,"pace":"4:40"}]`), "FINISHED", "BATTLE_ONLINE", &started).
			AddRow("b1", "u1", 2, 1000, 984, "rr1", 5000.0, int64(1_500_000), "5:00", []byte(`[]`), "FINISHED", "BATTLE_ONLINE", &started))

	results, err := repo.ListResults(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "u2", results[0].UserID)
	require.Len(t, results[0].Running.Splits, 1)
	assert.EqualValues(t, 280000, results[0].Running.Splits[0].ElapsedMs)
	assert.Equal(t, models.RunStatusFinished, results[1].Running.RunStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	mock, _ := newMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS battles`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

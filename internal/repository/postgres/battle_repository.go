package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

var (
	ErrNotFound = errors.New("record not found")
)

type BattleRepository interface {
	Create(ctx context.Context, b models.Battle, ps []models.Participant) error
	Get(ctx context.Context, bID string) (*models.Battle, error)
	ListParticipants(ctx context.Context, bID string) ([]models.Participant, error)
	SetReady(ctx context.Context, bID, uID string, ready bool) error
	Deactivate(ctx context.Context, bID, uID string) (bool, error)
	DeactivateNotReady(ctx context.Context, bID string) ([]string, error)
	Start(ctx context.Context, bID string, at time.Time) (bool, error)
	Cancel(ctx context.Context, bID string, at time.Time) (bool, error)
	Complete(ctx context.Context, bID string, results []models.BattleResult, at time.Time) (bool, error)
	ActiveBattleForUser(ctx context.Context, uID string) (string, error)
	ListResults(ctx context.Context, bID string) ([]models.BattleResult, error)
}

type pgBattleRepository struct {
	db Querier
	l  logger.Logger
}

func NewBattleRepository(db Querier, l logger.Logger) BattleRepository {
	return &pgBattleRepository{
		db: db,
		l:  l,
	}
}

const (
	insertBattleSQL = `INSERT INTO battles (id, kind, target_distance, distance_bucket, status, cancelled, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertParticipantSQL = `INSERT INTO battle_participants (battle_id, user_id, display_name, rating, ready, active)
VALUES ($1, $2, $3, $4, $5, $6)`

	selectBattleSQL = `SELECT id, kind, target_distance, distance_bucket, status, cancelled, created_at, started_at, completed_at
FROM battles WHERE id = $1`

	selectParticipantsSQL = `SELECT battle_id, user_id, display_name, rating, ready, active
FROM battle_participants WHERE battle_id = $1 ORDER BY user_id`

	setReadySQL = `UPDATE battle_participants SET ready = $3
WHERE battle_id = $1 AND user_id = $2 AND active
AND EXISTS (SELECT 1 FROM battles WHERE id = $1 AND status = 'STANDBY' FOR SHARE)`

	deactivateSQL = `UPDATE battle_participants SET active = FALSE
WHERE battle_id = $1 AND user_id = $2 AND active`

	deactivateNotReadySQL = `UPDATE battle_participants p SET active = FALSE
FROM battles b
WHERE p.battle_id = $1 AND b.id = p.battle_id AND b.status = 'STANDBY' AND p.active AND NOT p.ready
RETURNING p.user_id`

	lockBattleStatusSQL = `SELECT status FROM battles WHERE id = $1 FOR UPDATE`

	startBattleSQL = `UPDATE battles SET status = 'IN_PROGRESS', started_at = $2
WHERE id = $1 AND status = 'STANDBY'
AND NOT EXISTS (SELECT 1 FROM battle_participants WHERE battle_id = $1 AND active AND NOT ready)`

	cancelBattleSQL = `UPDATE battles SET status = 'COMPLETED', cancelled = TRUE, completed_at = $2
WHERE id = $1 AND status = 'STANDBY'`

	completeBattleSQL = `UPDATE battles SET status = 'COMPLETED', completed_at = $2
WHERE id = $1 AND status <> 'COMPLETED'`

	insertRunningResultSQL = `INSERT INTO running_results (id, user_id, total_distance_m, total_time_ms, avg_pace, splits, run_status, running_type, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertBattleResultSQL = `INSERT INTO battle_results (battle_id, user_id, rank, prev_rating, curr_rating, running_result_id)
VALUES ($1, $2, $3, $4, $5, $6)`

	activeBattleForUserSQL = `SELECT b.id FROM battles b
JOIN battle_participants p ON p.battle_id = b.id
WHERE p.user_id = $1 AND p.active AND b.status IN ('STANDBY', 'IN_PROGRESS')
ORDER BY b.created_at DESC LIMIT 1`

	selectResultsSQL = `SELECT br.battle_id, br.user_id, br.rank, br.prev_rating, br.curr_rating,
rr.id, rr.total_distance_m, rr.total_time_ms, rr.avg_pace, rr.splits, rr.run_status, rr.running_type, rr.started_at
FROM battle_results br
JOIN running_results rr ON rr.id = br.running_result_id
WHERE br.battle_id = $1 ORDER BY br.rank, br.user_id`
)

func (r *pgBattleRepository) Create(ctx context.Context, b models.Battle, ps []models.Participant) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Create: %v", err)
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertBattleSQL,
		b.ID, string(b.Kind), b.TargetDistance, b.DistanceBucket, string(b.Status), b.Cancelled, b.CreatedAt,
	); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Create battle: %v", err)
		return err
	}

	for _, p := range ps {
		if _, err := tx.Exec(ctx, insertParticipantSQL,
			b.ID, p.UserID, p.DisplayName, p.Rating, p.Ready, p.Active,
		); err != nil {
			r.l.Errorf(ctx, "pgBattleRepository.Create participant: %v", err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Create commit: %v", err)
		return err
	}

	return nil
}

func (r *pgBattleRepository) Get(ctx context.Context, bID string) (*models.Battle, error) {
	var (
		b            models.Battle
		kind, status string
	)
	err := r.db.QueryRow(ctx, selectBattleSQL, bID).Scan(
		&b.ID, &kind, &b.TargetDistance, &b.DistanceBucket, &status, &b.Cancelled, &b.CreatedAt, &b.StartedAt, &b.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.l.Errorf(ctx, "pgBattleRepository.Get: %v", err)
		return nil, err
	}

	b.Kind = models.BattleKind(kind)
	b.Status = models.BattleStatus(status)

	return &b, nil
}

func (r *pgBattleRepository) ListParticipants(ctx context.Context, bID string) ([]models.Participant, error) {
	rows, err := r.db.Query(ctx, selectParticipantsSQL, bID)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.ListParticipants: %v", err)
		return nil, err
	}
	defer rows.Close()

	var ps []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.BattleID, &p.UserID, &p.DisplayName, &p.Rating, &p.Ready, &p.Active); err != nil {
			r.l.Errorf(ctx, "pgBattleRepository.ListParticipants scan: %v", err)
			return nil, err
		}
		ps = append(ps, p)
	}

	if err := rows.Err(); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.ListParticipants rows: %v", err)
		return nil, err
	}

	return ps, nil
}

// SetReady returns ErrNotFound when the participant is unknown or inactive,
// or the battle has left STANDBY.
func (r *pgBattleRepository) SetReady(ctx context.Context, bID, uID string, ready bool) error {
	tag, err := r.db.Exec(ctx, setReadySQL, bID, uID, ready)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.SetReady: %v", err)
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Deactivate reports false when the participant was already inactive.
func (r *pgBattleRepository) Deactivate(ctx context.Context, bID, uID string) (bool, error) {
	tag, err := r.db.Exec(ctx, deactivateSQL, bID, uID)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Deactivate: %v", err)
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// DeactivateNotReady kicks every active participant that has not confirmed,
// provided the battle is still in STANDBY. Returns the kicked user ids.
func (r *pgBattleRepository) DeactivateNotReady(ctx context.Context, bID string) ([]string, error) {
	rows, err := r.db.Query(ctx, deactivateNotReadySQL, bID)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.DeactivateNotReady: %v", err)
		return nil, err
	}
	defer rows.Close()

	var kicked []string
	for rows.Next() {
		var uID string
		if err := rows.Scan(&uID); err != nil {
			r.l.Errorf(ctx, "pgBattleRepository.DeactivateNotReady scan: %v", err)
			return nil, err
		}
		kicked = append(kicked, uID)
	}

	if err := rows.Err(); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.DeactivateNotReady rows: %v", err)
		return nil, err
	}

	return kicked, nil
}

// Start moves STANDBY to IN_PROGRESS while every active participant is ready.
// Only the caller that wins the update gets true. The battle row is locked
// first so the readiness check sees every SetReady committed before it.
func (r *pgBattleRepository) Start(ctx context.Context, bID string, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Start: %v", err)
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	if err := tx.QueryRow(ctx, lockBattleStatusSQL, bID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		r.l.Errorf(ctx, "pgBattleRepository.Start lock: %v", err)
		return false, err
	}
	if models.BattleStatus(status) != models.BattleStatusStandby {
		return false, nil
	}

	tag, err := tx.Exec(ctx, startBattleSQL, bID, at)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Start: %v", err)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Start commit: %v", err)
		return false, err
	}

	return true, nil
}

// Cancel completes a battle that never started, without results.
func (r *pgBattleRepository) Cancel(ctx context.Context, bID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, cancelBattleSQL, bID, at)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Cancel: %v", err)
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

// Complete flips the battle to COMPLETED and writes its result set in one
// transaction. A caller that finds the battle already completed gets false
// and writes nothing.
func (r *pgBattleRepository) Complete(ctx context.Context, bID string, results []models.BattleResult, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Complete: %v", err)
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, completeBattleSQL, bID, at)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Complete status: %v", err)
		return false, err
	}

	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, res := range results {
		rrID := res.Running.ID
		if rrID == "" {
			rrID = uuid.NewString()
		}

		splits := res.Running.Splits
		if splits == nil {
			splits = []models.Split{}
		}
		splitsJSON, err := json.Marshal(splits)
		if err != nil {
			return false, fmt.Errorf("failed to marshal splits: %w", err)
		}

		if _, err := tx.Exec(ctx, insertRunningResultSQL,
			rrID, res.UserID, res.Running.TotalDistance, res.Running.TotalTimeMs, res.Running.AvgPace,
			splitsJSON, string(res.Running.RunStatus), string(res.Running.RunningType), res.Running.StartedAt,
		); err != nil {
			r.l.Errorf(ctx, "pgBattleRepository.Complete running result: %v", err)
			return false, err
		}

		if _, err := tx.Exec(ctx, insertBattleResultSQL,
			bID, res.UserID, res.Rank, res.PrevRating, res.CurrRating, rrID,
		); err != nil {
			r.l.Errorf(ctx, "pgBattleRepository.Complete battle result: %v", err)
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.Complete commit: %v", err)
		return false, err
	}

	return true, nil
}

// ActiveBattleForUser returns "" when the user has no STANDBY or IN_PROGRESS membership.
func (r *pgBattleRepository) ActiveBattleForUser(ctx context.Context, uID string) (string, error) {
	var bID string
	if err := r.db.QueryRow(ctx, activeBattleForUserSQL, uID).Scan(&bID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		r.l.Errorf(ctx, "pgBattleRepository.ActiveBattleForUser: %v", err)
		return "", err
	}

	return bID, nil
}

func (r *pgBattleRepository) ListResults(ctx context.Context, bID string) ([]models.BattleResult, error) {
	rows, err := r.db.Query(ctx, selectResultsSQL, bID)
	if err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.ListResults: %v", err)
		return nil, err
	}
	defer rows.Close()

	var results []models.BattleResult
	for rows.Next() {
		var (
			res                models.BattleResult
			splits             []byte
			runStatus, runType string
			startedAt          *time.Time
		)
		if err := rows.Scan(
			&res.BattleID, &res.UserID, &res.Rank, &res.PrevRating, &res.CurrRating,
			&res.Running.ID, &res.Running.TotalDistance, &res.Running.TotalTimeMs, &res.Running.AvgPace,
			&splits, &runStatus, &runType, &startedAt,
		); err != nil {
			r.l.Errorf(ctx, "pgBattleRepository.ListResults scan: %v", err)
			return nil, err
		}

		if len(splits) > 0 {
			if err := json.Unmarshal(splits, &res.Running.Splits); err != nil {
				r.l.Warnf(ctx, "pgBattleRepository.ListResults splits: %v", err)
			}
		}
		res.Running.UserID = res.UserID
		res.Running.RunStatus = models.RunStatus(runStatus)
		res.Running.RunningType = models.RunningType(runType)
		if startedAt != nil {
			res.Running.StartedAt = *startedAt
		}

		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		r.l.Errorf(ctx, "pgBattleRepository.ListResults rows: %v", err)
		return nil, err
	}

	return results, nil
}

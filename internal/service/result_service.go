package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/models"
	pgrepo "github.com/vogiaan1904/runbattle/internal/repository/postgres"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"github.com/vogiaan1904/runbattle/pkg/util"
)

type resultService struct {
	battleRepo pgrepo.BattleRepository
	tracker    TrackerService
	cfg        config.BattleConfig
	l          logger.Logger
	now        func() time.Time
}

func NewResultService(
	battleRepo pgrepo.BattleRepository,
	tracker TrackerService,
	cfg config.BattleConfig,
	l logger.Logger,
) ResultService {
	return &resultService{
		battleRepo: battleRepo,
		tracker:    tracker,
		cfg:        cfg,
		l:          l,
		now:        time.Now,
	}
}

// BuildOnline ranks the runners still in the ranking index, then lists
// quitters that ran at all with QUIT, and applies the rating update.
func (s *resultService) BuildOnline(ctx context.Context, b models.Battle, ps []models.Participant) ([]models.BattleResult, error) {
	rankings, err := s.tracker.GetRankings(ctx, b)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]models.Participant, len(ps))
	for _, p := range ps {
		byUser[p.UserID] = p
	}

	var startedAt time.Time
	if b.StartedAt != nil {
		startedAt = *b.StartedAt
	}
	elapsedNow := util.ElapsedMs(startedAt, s.now())
	runningType := models.RunningTypeFor(b.Kind)

	results := make([]models.BattleResult, 0, len(ps))
	seen := make(map[string]bool, len(ps))
	add := func(uID string, distanceM float64, totalMs int64, status models.RunStatus) {
		seen[uID] = true
		results = append(results, models.BattleResult{
			BattleID:   b.ID,
			UserID:     uID,
			Rank:       len(results) + 1,
			PrevRating: byUser[uID].Rating,
			Running: models.RunningResult{
				ID:            uuid.NewString(),
				UserID:        uID,
				TotalDistance: distanceM,
				TotalTimeMs:   totalMs,
				AvgPace:       util.FormatPace(totalMs, distanceM),
				Splits:        []models.Split{},
				RunStatus:     status,
				RunningType:   runningType,
				StartedAt:     startedAt,
			},
		})
	}

	for _, r := range rankings {
		p, ok := byUser[r.UserID]
		if !ok || !p.Active {
			continue
		}
		if r.IsFinished {
			add(r.UserID, r.DistanceM, r.FinishMs, models.RunStatusFinished)
		} else {
			add(r.UserID, r.DistanceM, elapsedNow, models.RunStatusIncomplete)
		}
	}

	for _, p := range models.ActiveParticipants(ps) {
		if !seen[p.UserID] {
			add(p.UserID, 0, elapsedNow, models.RunStatusIncomplete)
		}
	}

	var quitIDs []string
	for _, p := range ps {
		if !p.Active && !seen[p.UserID] {
			quitIDs = append(quitIDs, p.UserID)
		}
	}
	if len(quitIDs) > 0 {
		states, err := s.tracker.States(ctx, b.ID, quitIDs)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(states, func(i, j int) bool {
			if states[i].DistanceM != states[j].DistanceM {
				return states[i].DistanceM > states[j].DistanceM
			}
			return states[i].UserID < states[j].UserID
		})
		for _, st := range states {
			add(st.UserID, st.DistanceM, elapsedNow, models.RunStatusQuit)
		}
	}

	if b.IsRated() {
		ratings := make([]int, len(results))
		ranks := make([]int, len(results))
		for i, r := range results {
			ratings[i] = r.PrevRating
			ranks[i] = r.Rank
		}
		updated := eloUpdate(ratings, ranks, s.cfg.RatingKFactor)
		for i := range results {
			results[i].CurrRating = updated[i]
		}
	} else {
		for i := range results {
			results[i].CurrRating = results[i].PrevRating
		}
	}

	return results, nil
}

// Complete persists the result set once; false means another caller won.
func (s *resultService) Complete(ctx context.Context, b models.Battle, results []models.BattleResult) (bool, error) {
	won, err := s.battleRepo.Complete(ctx, b.ID, results, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to complete battle: %w", err)
	}

	if won {
		s.l.Infof(ctx, "Battle completed battle_id=%s results=%d", b.ID, len(results))
	} else {
		s.l.Debugf(ctx, "Battle already completed battle_id=%s", b.ID)
	}

	return won, nil
}

func (s *resultService) Results(ctx context.Context, bID string) ([]models.BattleResult, error) {
	if _, err := s.battleRepo.Get(ctx, bID); err != nil {
		if errors.Is(err, pgrepo.ErrNotFound) {
			return nil, ErrBattleNotFound
		}
		return nil, err
	}

	results, err := s.battleRepo.ListResults(ctx, bID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	return results, nil
}

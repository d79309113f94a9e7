package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/metrics"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/internal/relay"
	repo "github.com/vogiaan1904/runbattle/internal/repository/redis"
	"github.com/vogiaan1904/runbattle/pkg/geo"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"github.com/vogiaan1904/runbattle/pkg/util"
)

type trackerService struct {
	liveRepo repo.LiveRepository
	pub      relay.Publisher
	cfg      config.BattleConfig
	l        logger.Logger
	now      func() time.Time
}

func NewTrackerService(
	liveRepo repo.LiveRepository,
	pub relay.Publisher,
	cfg config.BattleConfig,
	l logger.Logger,
) TrackerService {
	return &trackerService{
		liveRepo: liveRepo,
		pub:      pub,
		cfg:      cfg,
		l:        l,
		now:      time.Now,
	}
}

func (s *trackerService) Initialize(ctx context.Context, b models.Battle, p models.Participant, start time.Time) error {
	name := p.DisplayName
	if name == "" {
		name = p.UserID
	}

	if _, err := s.liveRepo.Initialize(ctx, b.ID, models.LiveParticipantState{
		UserID:      p.UserID,
		DisplayName: name,
		Pace:        util.PacePlaceholder,
		StartTime:   start,
	}, s.cfg.LiveStateTTL); err != nil {
		return fmt.Errorf("failed to initialize live state: %w", err)
	}

	return nil
}

// UpdatePosition records one sample. Pace is elapsed wall-clock time over
// cumulative distance, and a sample without distance is measured from the last fix.
func (s *trackerService) UpdatePosition(ctx context.Context, b models.Battle, smp models.GPSSample) (PositionOutput, error) {
	st, err := s.liveRepo.GetState(ctx, b.ID, smp.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrLiveStateNotFound) {
			return PositionOutput{}, ErrParticipantNotFound
		}
		return PositionOutput{}, err
	}

	at := smp.RecordedAt
	if at.IsZero() {
		at = s.now()
	}
	elapsed := util.ElapsedMs(st.StartTime, at)

	dist := smp.DistanceM
	if dist == 0 && st.LastFix != nil && (smp.Lat != 0 || smp.Lng != 0) {
		dist = st.DistanceM + geo.HaversineM(st.LastFix.Lat, st.LastFix.Lng, smp.Lat, smp.Lng)
	}
	pace := util.FormatPace(elapsed, dist)

	res, err := s.liveRepo.UpdatePosition(ctx, b.ID, smp.UserID, repo.PositionUpdate{
		DistanceM: dist,
		SpeedMps:  smp.SpeedMps,
		Pace:      pace,
		Fix:       models.GPSFix{Lat: smp.Lat, Lng: smp.Lng, Time: at},
	}, s.cfg.LiveStateTTL)
	if err != nil {
		if errors.Is(err, repo.ErrLiveStateNotFound) {
			return PositionOutput{}, ErrParticipantNotFound
		}
		return PositionOutput{}, err
	}

	out := PositionOutput{
		UserID:    smp.UserID,
		Applied:   res.Applied,
		DistanceM: res.DistanceM,
		Pace:      st.Pace,
		ElapsedMs: elapsed,
		Finished:  st.IsFinished,
	}

	if !res.Applied {
		metrics.SamplesStale.Inc()
		s.l.Debugf(ctx, "Stale sample user_id=%s distance=%.1f stored=%.1f", smp.UserID, dist, res.DistanceM)
		return out, nil
	}
	out.Pace = pace

	if !st.IsFinished && res.DistanceM >= b.TargetMeters() {
		marked, err := s.MarkFinished(ctx, b, smp.UserID, elapsed)
		if err != nil {
			return out, err
		}
		out.Finished = true
		out.JustCrossed = marked
	}

	s.publishRankings(ctx, b)

	return out, nil
}

// MarkFinished is a no-op below the target and after the first success.
func (s *trackerService) MarkFinished(ctx context.Context, b models.Battle, uID string, finishMs int64) (bool, error) {
	marked, err := s.liveRepo.MarkFinished(ctx, b.ID, uID, b.TargetMeters(), finishMs)
	if err != nil {
		if errors.Is(err, repo.ErrLiveStateNotFound) {
			return false, ErrParticipantNotFound
		}
		return false, err
	}

	if marked {
		s.l.Infof(ctx, "Participant finished battle_id=%s user_id=%s finish_ms=%d", b.ID, uID, finishMs)
	}

	return marked, nil
}

func (s *trackerService) GetRankings(ctx context.Context, b models.Battle) ([]models.RankingEntry, error) {
	states, err := s.liveRepo.GetRanked(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ranked states: %w", err)
	}

	return buildRankings(states, b.TargetMeters()), nil
}

// AllFinished is false when any listed user has no live state.
func (s *trackerService) AllFinished(ctx context.Context, bID string, uIDs []string) (bool, error) {
	if len(uIDs) == 0 {
		return false, nil
	}

	states, err := s.liveRepo.GetStates(ctx, bID, uIDs)
	if err != nil {
		return false, err
	}

	if len(states) != len(uIDs) {
		return false, nil
	}

	for _, st := range states {
		if !st.IsFinished {
			return false, nil
		}
	}

	return true, nil
}

func (s *trackerService) States(ctx context.Context, bID string, uIDs []string) ([]models.LiveParticipantState, error) {
	return s.liveRepo.GetStates(ctx, bID, uIDs)
}

func (s *trackerService) RemoveFromRanking(ctx context.Context, bID, uID string) error {
	return s.liveRepo.RemoveFromRanking(ctx, bID, uID)
}

func (s *trackerService) publishRankings(ctx context.Context, b models.Battle) {
	rankings, err := s.GetRankings(ctx, b)
	if err != nil {
		s.l.Warnf(ctx, "service.trackerService.publishRankings: %v", err)
		return
	}

	s.pub.Ranking(ctx, b.ID, RankingsOutput{BattleID: b.ID, Rankings: rankings})
}

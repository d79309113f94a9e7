package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/metrics"
	"github.com/vogiaan1904/runbattle/internal/models"
	pgrepo "github.com/vogiaan1904/runbattle/internal/repository/postgres"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type battleService struct {
	battleRepo pgrepo.BattleRepository
	readiness  ReadinessService
	tracker    TrackerService
	summarizer SummarizerService
	results    ResultService
	rating     RatingProvider
	cfg        config.BattleConfig
	l          logger.Logger
	now        func() time.Time
}

func NewBattleService(
	battleRepo pgrepo.BattleRepository,
	readiness ReadinessService,
	tracker TrackerService,
	summarizer SummarizerService,
	results ResultService,
	rating RatingProvider,
	cfg config.BattleConfig,
	l logger.Logger,
) BattleService {
	return &battleService{
		battleRepo: battleRepo,
		readiness:  readiness,
		tracker:    tracker,
		summarizer: summarizer,
		results:    results,
		rating:     rating,
		cfg:        cfg,
		l:          l,
		now:        time.Now,
	}
}

// CreateBattle registers a roster in STANDBY and arms the ready timeout.
// Creating with a known battle id returns the stored battle and re-arms its
// ready timeout while it is still in STANDBY.
func (s *battleService) CreateBattle(ctx context.Context, in CreateBattleInput) (BattleOutput, error) {
	if !in.Kind.Valid() {
		return BattleOutput{}, ErrInvalidKind
	}
	if in.TargetDistance <= 0 {
		return BattleOutput{}, ErrInvalidTarget
	}

	roster := dedupeRoster(in.Participants)
	if len(roster) < s.cfg.MinParticipants {
		return BattleOutput{}, ErrNotEnoughRunners
	}

	if in.BattleID != "" {
		out, err := s.GetBattle(ctx, in.BattleID)
		if err == nil {
			out.Existing = true
			if out.Battle.Status == models.BattleStatusStandby {
				s.readiness.ScheduleTimeout(out.Battle.ID)
				s.l.Infof(ctx, "Ready timeout re-armed battle_id=%s", out.Battle.ID)
			}
			return out, nil
		}
		if !errors.Is(err, ErrBattleNotFound) {
			return BattleOutput{}, err
		}
	}

	for _, p := range roster {
		bID, err := s.battleRepo.ActiveBattleForUser(ctx, p.UserID)
		if err != nil {
			s.l.Errorf(ctx, "service.battleService.CreateBattle: %v", err)
			return BattleOutput{}, err
		}
		if bID != "" {
			s.l.Warnf(ctx, "User already in battle user_id=%s battle_id=%s", p.UserID, bID)
			return BattleOutput{}, ErrAlreadyInBattle
		}
	}

	bucket := in.DistanceBucket
	if bucket == 0 {
		bucket = int(math.Round(in.TargetDistance))
	}

	b := models.Battle{
		ID:             in.BattleID,
		Kind:           in.Kind,
		TargetDistance: in.TargetDistance,
		DistanceBucket: bucket,
		Status:         models.BattleStatusStandby,
		CreatedAt:      s.now(),
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	ps := make([]models.Participant, len(roster))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range roster {
		g.Go(func() error {
			r := s.cfg.DefaultRating
			if b.IsRated() {
				r = ratingFor(gctx, s.rating, s.l, p.UserID, bucket, s.cfg.DefaultRating)
			}
			ps[i] = models.Participant{
				BattleID:    b.ID,
				UserID:      p.UserID,
				DisplayName: p.DisplayName,
				Rating:      r,
				Active:      true,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BattleOutput{}, err
	}

	if err := s.battleRepo.Create(ctx, b, ps); err != nil {
		s.l.Errorf(ctx, "service.battleService.CreateBattle: %v", err)
		return BattleOutput{}, fmt.Errorf("failed to create battle: %w", err)
	}

	s.readiness.ScheduleTimeout(b.ID)
	s.l.Infof(ctx, "Battle created battle_id=%s kind=%s target_km=%.2f participants=%d", b.ID, b.Kind, b.TargetDistance, len(ps))

	return BattleOutput{Battle: b, Participants: ps}, nil
}

func (s *battleService) GetBattle(ctx context.Context, bID string) (BattleOutput, error) {
	b, err := s.battleRepo.Get(ctx, bID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrNotFound) {
			return BattleOutput{}, ErrBattleNotFound
		}
		return BattleOutput{}, err
	}

	ps, err := s.battleRepo.ListParticipants(ctx, bID)
	if err != nil {
		return BattleOutput{}, fmt.Errorf("failed to list participants: %w", err)
	}

	return BattleOutput{Battle: *b, Participants: ps}, nil
}

// IngestSample routes one GPS sample by battle kind. An online sample that
// finishes the last runner completes the battle.
func (s *battleService) IngestSample(ctx context.Context, bID string, in GPSSampleInput) (IngestOutput, error) {
	if in.UserID == "" || in.DistanceM < 0 || in.SpeedMps < 0 ||
		math.IsNaN(in.DistanceM) || math.Abs(in.Lat) > 90 || math.Abs(in.Lng) > 180 {
		return IngestOutput{}, ErrInvalidSample
	}

	out, err := s.GetBattle(ctx, bID)
	if err != nil {
		return IngestOutput{}, err
	}
	b := out.Battle

	if b.Status != models.BattleStatusInProgress {
		return IngestOutput{}, ErrInvalidState
	}

	p := findParticipant(out.Participants, in.UserID)
	if p == nil || !p.Active {
		return IngestOutput{}, ErrParticipantNotFound
	}

	smp := models.GPSSample{
		BattleID:  bID,
		UserID:    in.UserID,
		Lat:       in.Lat,
		Lng:       in.Lng,
		DistanceM: in.DistanceM,
		SpeedMps:  in.SpeedMps,
	}
	if in.RecordedAt != nil {
		smp.RecordedAt = *in.RecordedAt
	}

	res := IngestOutput{BattleID: bID, Kind: b.Kind}

	switch b.Kind {
	case models.BattleKindOnline:
		pos, err := s.tracker.UpdatePosition(ctx, b, smp)
		if err != nil {
			return IngestOutput{}, err
		}
		res.Position = &pos

		if pos.JustCrossed {
			done, err := s.tracker.AllFinished(ctx, bID, userIDs(models.ActiveParticipants(out.Participants)))
			if err != nil {
				s.l.Warnf(ctx, "service.battleService.IngestSample: all finished: %v", err)
			} else if done {
				outcome, err := s.readiness.Finish(ctx, bID, "")
				if err != nil {
					return res, err
				}
				res.Finish = outcome
			}
		}
	case models.BattleKindOffline:
		snap, err := s.summarizer.ProcessSample(ctx, b, smp)
		if err != nil {
			return IngestOutput{}, err
		}
		res.Snapshot = &snap
	default:
		return IngestOutput{}, ErrInvalidKind
	}

	metrics.SamplesIngested.WithLabelValues(string(b.Kind)).Inc()

	return res, nil
}

func (s *battleService) Rankings(ctx context.Context, bID string) (RankingsOutput, error) {
	b, err := s.battleRepo.Get(ctx, bID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrNotFound) {
			return RankingsOutput{}, ErrBattleNotFound
		}
		return RankingsOutput{}, err
	}

	rankings, err := s.tracker.GetRankings(ctx, *b)
	if err != nil {
		return RankingsOutput{}, err
	}

	return RankingsOutput{BattleID: bID, Rankings: rankings}, nil
}

func (s *battleService) Results(ctx context.Context, bID string) ([]models.BattleResult, error) {
	return s.results.Results(ctx, bID)
}

func dedupeRoster(in []ParticipantInput) []ParticipantInput {
	seen := make(map[string]bool, len(in))
	out := make([]ParticipantInput, 0, len(in))
	for _, p := range in {
		if p.UserID == "" || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		out = append(out, p)
	}
	return out
}

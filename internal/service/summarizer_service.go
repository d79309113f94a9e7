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
	"github.com/vogiaan1904/runbattle/internal/relay"
	repo "github.com/vogiaan1904/runbattle/internal/repository/redis"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"github.com/vogiaan1904/runbattle/pkg/util"
)

type summarizerService struct {
	gpsRepo repo.GPSRepository
	pub     relay.Publisher
	cfg     config.BattleConfig
	l       logger.Logger
	now     func() time.Time
}

func NewSummarizerService(
	gpsRepo repo.GPSRepository,
	pub relay.Publisher,
	cfg config.BattleConfig,
	l logger.Logger,
) SummarizerService {
	return &summarizerService{
		gpsRepo: gpsRepo,
		pub:     pub,
		cfg:     cfg,
		l:       l,
		now:     time.Now,
	}
}

func (s *summarizerService) ProcessSample(ctx context.Context, b models.Battle, smp models.GPSSample) (SampleSnapshot, error) {
	if b.StartedAt == nil {
		return SampleSnapshot{}, ErrInvalidState
	}

	if smp.RecordedAt.IsZero() {
		smp.RecordedAt = s.now()
	}
	smp.BattleID = b.ID
	smp.ElapsedMs = util.ElapsedMs(*b.StartedAt, smp.RecordedAt)

	rec, err := s.gpsRepo.AppendSample(ctx, smp, s.cfg.LiveStateTTL)
	if err != nil {
		return SampleSnapshot{}, fmt.Errorf("failed to append sample: %w", err)
	}

	targetM := b.TargetMeters()
	snap := SampleSnapshot{
		UserID:         smp.UserID,
		AvgPace:        util.FormatPace(smp.ElapsedMs, rec.MaxDistanceM),
		TotalDistanceM: rec.MaxDistanceM,
		RemainingM:     math.Max(0, targetM-rec.MaxDistanceM),
		ElapsedMs:      smp.ElapsedMs,
		TargetReached:  rec.MaxDistanceM >= targetM,
	}

	if n := len(rec.CrossedKm); n > 0 {
		snap.CrossedKm = rec.CrossedKm[n-1]
		metrics.KmCrossings.Add(float64(n))
		s.l.Infof(ctx, "Km crossed battle_id=%s user_id=%s km=%v elapsed_ms=%d", b.ID, smp.UserID, rec.CrossedKm, smp.ElapsedMs)
	}

	s.pub.Ranking(ctx, b.ID, snap)

	return snap, nil
}

// Finish reads the submitter's log and builds one identical result per active
// participant. The log is only discarded after the battle is completed, so a
// missing log means another call already completed it.
func (s *summarizerService) Finish(ctx context.Context, b models.Battle, ps []models.Participant, submitter string) ([]models.BattleResult, error) {
	lg, err := s.gpsRepo.GetLog(ctx, b.ID, submitter)
	if err != nil {
		if errors.Is(err, repo.ErrSampleLogNotFound) {
			return nil, ErrAlreadyFinished
		}
		return nil, fmt.Errorf("failed to read sample log: %w", err)
	}

	splits := buildSplits(lg.KmElapsedMs, lg.MaxDistanceM)
	runStatus := models.RunStatusIncomplete
	if lg.MaxDistanceM >= b.TargetMeters() {
		runStatus = models.RunStatusFinished
	}

	var startedAt time.Time
	if b.StartedAt != nil {
		startedAt = *b.StartedAt
	} else if len(lg.Samples) > 0 {
		startedAt = lg.Samples[0].RecordedAt
	}

	avgPace := util.FormatPace(lg.MaxElapsedMs, lg.MaxDistanceM)

	var results []models.BattleResult
	for _, p := range models.ActiveParticipants(ps) {
		userSplits := make([]models.Split, len(splits))
		copy(userSplits, splits)

		results = append(results, models.BattleResult{
			BattleID:   b.ID,
			UserID:     p.UserID,
			Rank:       1,
			PrevRating: p.Rating,
			CurrRating: p.Rating,
			Running: models.RunningResult{
				ID:            uuid.NewString(),
				UserID:        p.UserID,
				TotalDistance: lg.MaxDistanceM,
				TotalTimeMs:   lg.MaxElapsedMs,
				AvgPace:       avgPace,
				Splits:        userSplits,
				RunStatus:     runStatus,
				RunningType:   models.RunningTypeFor(b.Kind),
				StartedAt:     startedAt,
			},
		})
	}

	s.l.Infof(ctx, "Offline battle summarized battle_id=%s submitter=%s samples=%d distance=%.1f elapsed_ms=%d",
		b.ID, submitter, len(lg.Samples), lg.MaxDistanceM, lg.MaxElapsedMs)

	return results, nil
}

// LongestLog picks the participant whose log went furthest, active ones first.
func (s *summarizerService) LongestLog(ctx context.Context, b models.Battle, ps []models.Participant) (string, error) {
	active := userIDs(models.ActiveParticipants(ps))
	uID, err := s.gpsRepo.LongestLog(ctx, b.ID, active)
	if err != nil || uID != "" {
		return uID, err
	}

	return s.gpsRepo.LongestLog(ctx, b.ID, userIDs(ps))
}

func (s *summarizerService) Discard(ctx context.Context, bID string, ps []models.Participant) error {
	return s.gpsRepo.DeleteLogs(ctx, bID, userIDs(ps))
}

// buildSplits turns first-crossing times into per-kilometre splits. Each
// split's pace covers only that kilometre.
func buildSplits(kmElapsed map[int]int64, maxDistanceM float64) []models.Split {
	last := int(maxDistanceM / 1000)
	splits := make([]models.Split, 0, last)

	var prev int64
	for km := 1; km <= last; km++ {
		ms, ok := kmElapsed[km]
		if !ok {
			continue
		}
		splits = append(splits, models.Split{
			Km:        km,
			ElapsedMs: ms,
			Pace:      util.FormatPace(ms-prev, 1000),
		})
		prev = ms
	}

	return splits
}

func userIDs(ps []models.Participant) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	return ids
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/metrics"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/internal/relay"
	pgrepo "github.com/vogiaan1904/runbattle/internal/repository/postgres"
	repo "github.com/vogiaan1904/runbattle/internal/repository/redis"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

type matchmakingService struct {
	queueRepo  repo.QueueRepository
	battleRepo pgrepo.BattleRepository
	rating     RatingProvider
	pub        relay.Publisher
	battleCfg  config.BattleConfig
	mmCfg      config.MatchmakingConfig
	l          logger.Logger
	now        func() time.Time
}

func NewMatchmakingService(
	queueRepo repo.QueueRepository,
	battleRepo pgrepo.BattleRepository,
	rating RatingProvider,
	pub relay.Publisher,
	battleCfg config.BattleConfig,
	mmCfg config.MatchmakingConfig,
	l logger.Logger,
) MatchmakingService {
	return &matchmakingService{
		queueRepo:  queueRepo,
		battleRepo: battleRepo,
		rating:     rating,
		pub:        pub,
		battleCfg:  battleCfg,
		mmCfg:      mmCfg,
		l:          l,
		now:        time.Now,
	}
}

// Enqueue places the user in the pool for the criteria, leaving any pool
// they were waiting in before.
func (s *matchmakingService) Enqueue(ctx context.Context, in EnqueueInput) (EnqueueOutput, error) {
	if in.UserID == "" || in.DistanceBucket <= 0 || in.GroupSize < s.battleCfg.MinParticipants {
		return EnqueueOutput{}, ErrInvalidCriteria
	}

	bID, err := s.battleRepo.ActiveBattleForUser(ctx, in.UserID)
	if err != nil {
		s.l.Errorf(ctx, "service.matchmakingService.Enqueue: %v", err)
		return EnqueueOutput{}, err
	}
	if bID != "" {
		return EnqueueOutput{}, ErrAlreadyInBattle
	}

	key := models.CriteriaKey{DistanceBucket: in.DistanceBucket, GroupSize: in.GroupSize}
	entry := models.QueueEntry{
		Criteria:      key,
		UserID:        in.UserID,
		Rating:        ratingFor(ctx, s.rating, s.l, in.UserID, in.DistanceBucket, s.battleCfg.DefaultRating),
		WaitStartTime: s.now(),
	}

	prev, err := s.queueRepo.AddToPool(ctx, entry)
	if err != nil {
		return EnqueueOutput{}, fmt.Errorf("failed to enqueue: %w", err)
	}

	metrics.QueueEnqueued.Inc()
	if prev != "" && prev != key.String() {
		s.l.Infof(ctx, "User moved between pools user_id=%s from=%s to=%s", in.UserID, prev, key)
	} else {
		s.l.Infof(ctx, "User enqueued user_id=%s criteria=%s rating=%d", in.UserID, key, entry.Rating)
	}

	return EnqueueOutput{
		UserID:        in.UserID,
		Criteria:      key.String(),
		Rating:        entry.Rating,
		WaitStartTime: entry.WaitStartTime,
	}, nil
}

func (s *matchmakingService) Dequeue(ctx context.Context, uID string) error {
	prev, err := s.queueRepo.RemoveFromPool(ctx, uID)
	if err != nil {
		return fmt.Errorf("failed to dequeue: %w", err)
	}

	if prev != "" {
		s.l.Infof(ctx, "User dequeued user_id=%s criteria=%s", uID, prev)
	}

	return nil
}

// PollStatus consumes a pending ticket before looking at the pools, so a
// MATCHED answer is given exactly once.
func (s *matchmakingService) PollStatus(ctx context.Context, uID string) (QueueStatusOutput, error) {
	t, err := s.queueRepo.ConsumeTicket(ctx, uID)
	if err != nil {
		return QueueStatusOutput{}, err
	}
	if t != nil {
		metrics.TicketsConsumed.Inc()
		return QueueStatusOutput{
			UserID:   uID,
			Status:   models.MatchStatusMatched,
			BattleID: t.BattleID,
		}, nil
	}

	entry, err := s.queueRepo.GetEntry(ctx, uID)
	if err != nil {
		return QueueStatusOutput{}, err
	}
	if entry == nil {
		return QueueStatusOutput{UserID: uID, Status: models.MatchStatusNone}, nil
	}

	var wait int64
	if !entry.WaitStartTime.IsZero() {
		wait = int64(s.now().Sub(entry.WaitStartTime).Seconds())
		if wait < 0 {
			wait = 0
		}
	}

	return QueueStatusOutput{
		UserID:      uID,
		Status:      models.MatchStatusWaiting,
		Criteria:    entry.Criteria.String(),
		Rating:      entry.Rating,
		WaitSeconds: wait,
	}, nil
}

// IssueTickets hands each matched user their battle id and takes them out of
// the pools.
func (s *matchmakingService) IssueTickets(ctx context.Context, bID string, uIDs []string) error {
	for _, uID := range uIDs {
		if _, err := s.queueRepo.RemoveFromPool(ctx, uID); err != nil {
			return fmt.Errorf("failed to remove %s from pool: %w", uID, err)
		}

		t := models.MatchTicket{UserID: uID, BattleID: bID}
		if err := s.queueRepo.SaveTicket(ctx, t, s.mmCfg.TicketTTL); err != nil {
			return fmt.Errorf("failed to save ticket for %s: %w", uID, err)
		}

		metrics.TicketsIssued.Inc()
		s.pub.Match(ctx, uID, QueueStatusOutput{
			UserID:   uID,
			Status:   models.MatchStatusMatched,
			BattleID: bID,
		})
	}

	s.l.Infof(ctx, "Tickets issued battle_id=%s user_ids=%v", bID, uIDs)

	return nil
}

func (s *matchmakingService) Pool(ctx context.Context, key models.CriteriaKey, limit int64) ([]models.QueueEntry, error) {
	return s.queueRepo.GetPoolMembers(ctx, key, limit)
}

func (s *matchmakingService) ActivePools(ctx context.Context) ([]models.CriteriaKey, error) {
	return s.queueRepo.ActivePools(ctx)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/delivery/kafka"
	"github.com/vogiaan1904/runbattle/internal/delivery/kafka/producer"
	"github.com/vogiaan1904/runbattle/internal/metrics"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/internal/relay"
	pgrepo "github.com/vogiaan1904/runbattle/internal/repository/postgres"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	cancelReasonReadyTimeout = "ready_timeout"
	cancelReasonRosterLeft   = "roster_left"

	// timeoutPasses bounds kick-then-start rounds when readiness keeps
	// flipping under the timer.
	timeoutPasses = 3
)

type readinessService struct {
	battleRepo pgrepo.BattleRepository
	tracker    TrackerService
	summarizer SummarizerService
	results    ResultService
	pub        relay.Publisher
	prod       producer.Producer
	sched      Scheduler
	cfg        config.BattleConfig
	l          logger.Logger
	now        func() time.Time
}

// NewReadinessService wires the battle state machine. prod may be nil when
// Kafka is disabled.
func NewReadinessService(
	battleRepo pgrepo.BattleRepository,
	tracker TrackerService,
	summarizer SummarizerService,
	results ResultService,
	pub relay.Publisher,
	prod producer.Producer,
	sched Scheduler,
	cfg config.BattleConfig,
	l logger.Logger,
) ReadinessService {
	return &readinessService{
		battleRepo: battleRepo,
		tracker:    tracker,
		summarizer: summarizer,
		results:    results,
		pub:        pub,
		prod:       prod,
		sched:      sched,
		cfg:        cfg,
		l:          l,
		now:        time.Now,
	}
}

func (s *readinessService) load(ctx context.Context, bID string) (*models.Battle, []models.Participant, error) {
	b, err := s.battleRepo.Get(ctx, bID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrNotFound) {
			return nil, nil, ErrBattleNotFound
		}
		return nil, nil, err
	}

	ps, err := s.battleRepo.ListParticipants(ctx, bID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list participants: %w", err)
	}

	return b, ps, nil
}

func (s *readinessService) ToggleReady(ctx context.Context, bID, uID string, ready bool) (ToggleReadyOutput, error) {
	b, ps, err := s.load(ctx, bID)
	if err != nil {
		return ToggleReadyOutput{}, err
	}

	if b.Status != models.BattleStatusStandby {
		return ToggleReadyOutput{}, ErrInvalidState
	}

	p := findParticipant(ps, uID)
	if p == nil || !p.Active {
		return ToggleReadyOutput{}, ErrParticipantNotFound
	}

	if err := s.battleRepo.SetReady(ctx, bID, uID, ready); err != nil {
		if errors.Is(err, pgrepo.ErrNotFound) {
			if cur, gerr := s.battleRepo.Get(ctx, bID); gerr == nil && cur.Status != models.BattleStatusStandby {
				return ToggleReadyOutput{}, ErrInvalidState
			}
			return ToggleReadyOutput{}, ErrParticipantNotFound
		}
		s.l.Errorf(ctx, "service.readinessService.ToggleReady: %v", err)
		return ToggleReadyOutput{}, err
	}
	p.Ready = ready

	out := ToggleReadyOutput{
		BattleID: bID,
		UserID:   uID,
		Ready:    ready,
		AllReady: models.AllReady(ps),
	}

	s.pub.Notice(ctx, bID, Notice{
		Type:      NoticeReady,
		BattleID:  bID,
		UserID:    uID,
		Ready:     &ready,
		AllReady:  out.AllReady,
		Timestamp: s.now(),
	})

	if out.AllReady {
		outcome, err := s.Start(ctx, bID)
		switch {
		case err == nil:
			out.Started = outcome == StartOutcomeStarted
		case errors.Is(err, ErrNotAllReady):
			// A concurrent toggle flipped someone back.
			out.AllReady = false
		default:
			return out, err
		}
	}

	return out, nil
}

// Start flips STANDBY to IN_PROGRESS once. Losing the race is reported as
// ALREADY_STARTED. The write itself refuses while any active participant is
// not ready.
func (s *readinessService) Start(ctx context.Context, bID string) (StartOutcome, error) {
	b, ps, err := s.load(ctx, bID)
	if err != nil {
		return "", err
	}

	switch b.Status {
	case models.BattleStatusInProgress:
		return StartOutcomeAlreadyStarted, nil
	case models.BattleStatusCompleted:
		return "", ErrInvalidState
	}

	if !models.AllReady(ps) {
		return "", ErrNotAllReady
	}

	at := s.now()
	won, err := s.battleRepo.Start(ctx, bID, at)
	if err != nil {
		s.l.Errorf(ctx, "service.readinessService.Start: %v", err)
		return "", err
	}
	if !won {
		return s.startRaceOutcome(ctx, bID)
	}
	b.Status = models.BattleStatusInProgress
	b.StartedAt = &at

	active := models.ActiveParticipants(ps)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range active {
		g.Go(func() error {
			return s.tracker.Initialize(gctx, *b, p, at)
		})
	}
	if err := g.Wait(); err != nil {
		s.l.Errorf(ctx, "service.readinessService.Start: %v", err)
		return "", err
	}

	metrics.BattlesStarted.Inc()
	s.l.Infof(ctx, "Battle started battle_id=%s kind=%s participants=%d", bID, b.Kind, len(active))

	ids := userIDs(active)
	s.pub.Notice(ctx, bID, Notice{
		Type:      NoticeStarted,
		BattleID:  bID,
		UserIDs:   ids,
		Timestamp: at,
	})

	if s.prod != nil {
		if err := s.prod.PublishBattleStarted(ctx, kafka.BattleStartedEvent{
			BattleID:       bID,
			Kind:           string(b.Kind),
			TargetDistance: b.TargetDistance,
			UserIDs:        ids,
			StartedAt:      at,
		}); err != nil {
			s.l.Warnf(ctx, "service.readinessService.Start: publish started event: %v", err)
		}
	}

	return StartOutcomeStarted, nil
}

func (s *readinessService) startRaceOutcome(ctx context.Context, bID string) (StartOutcome, error) {
	cur, err := s.battleRepo.Get(ctx, bID)
	if err != nil {
		return "", err
	}
	switch cur.Status {
	case models.BattleStatusInProgress:
		return StartOutcomeAlreadyStarted, nil
	case models.BattleStatusStandby:
		return "", ErrNotAllReady
	}
	return "", ErrInvalidState
}

// OnTimeout kicks everyone not ready, then starts with the rest or cancels.
// It is inert once the battle has left STANDBY.
func (s *readinessService) OnTimeout(ctx context.Context, bID string) (TimeoutOutcome, error) {
	b, err := s.battleRepo.Get(ctx, bID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrNotFound) {
			return "", ErrBattleNotFound
		}
		return "", err
	}

	switch b.Status {
	case models.BattleStatusInProgress:
		return TimeoutOutcomeAlreadyStarted, nil
	case models.BattleStatusCompleted:
		return TimeoutOutcomeNoop, nil
	}

	var allKicked []string
	for pass := 1; pass <= timeoutPasses; pass++ {
		kicked, err := s.battleRepo.DeactivateNotReady(ctx, bID)
		if err != nil {
			s.l.Errorf(ctx, "service.readinessService.OnTimeout: %v", err)
			return "", err
		}

		if len(kicked) > 0 {
			allKicked = append(allKicked, kicked...)
			metrics.ParticipantsKicked.Add(float64(len(kicked)))
			s.l.Infof(ctx, "Kicked not-ready participants battle_id=%s user_ids=%v", bID, kicked)
			s.pub.Notice(ctx, bID, Notice{
				Type:      NoticeKicked,
				BattleID:  bID,
				UserIDs:   kicked,
				Timestamp: s.now(),
			})
		}

		ps, err := s.battleRepo.ListParticipants(ctx, bID)
		if err != nil {
			return "", fmt.Errorf("failed to list participants: %w", err)
		}

		if len(models.ActiveParticipants(ps)) < s.cfg.MinParticipants {
			break
		}

		outcome, err := s.Start(ctx, bID)
		switch {
		case err == nil && outcome == StartOutcomeAlreadyStarted:
			return TimeoutOutcomeAlreadyStarted, nil
		case err == nil:
			return TimeoutOutcomeStarted, nil
		case errors.Is(err, ErrInvalidState):
			return TimeoutOutcomeNoop, nil
		case errors.Is(err, ErrNotAllReady):
			// Someone flipped back to not ready after the kick.
			s.l.Warnf(ctx, "service.readinessService.OnTimeout: battle_id=%s pass=%d: %v", bID, pass, err)
			continue
		default:
			return "", err
		}
	}

	won, err := s.cancel(ctx, b, cancelReasonReadyTimeout, allKicked)
	if err != nil {
		return "", err
	}
	if !won {
		return s.timeoutRaceOutcome(ctx, bID)
	}

	return TimeoutOutcomeCancelled, nil
}

func (s *readinessService) timeoutRaceOutcome(ctx context.Context, bID string) (TimeoutOutcome, error) {
	b, err := s.battleRepo.Get(ctx, bID)
	if err != nil {
		return "", err
	}
	if b.Status == models.BattleStatusInProgress {
		return TimeoutOutcomeAlreadyStarted, nil
	}
	return TimeoutOutcomeNoop, nil
}

func (s *readinessService) ScheduleTimeout(bID string) {
	s.sched.AfterFunc(s.cfg.ReadyTimeout, func() {
		ctx := context.Background()
		outcome, err := s.OnTimeout(ctx, bID)
		if err != nil {
			s.l.Errorf(ctx, "service.readinessService.ScheduleTimeout: battle_id=%s: %v", bID, err)
			return
		}
		s.l.Infof(ctx, "Ready timeout fired battle_id=%s outcome=%s", bID, outcome)
	})
}

func (s *readinessService) Quit(ctx context.Context, bID, uID string) (QuitOutput, error) {
	b, ps, err := s.load(ctx, bID)
	if err != nil {
		return QuitOutput{}, err
	}

	if b.Status == models.BattleStatusCompleted {
		return QuitOutput{}, ErrInvalidState
	}

	p := findParticipant(ps, uID)
	if p == nil {
		return QuitOutput{}, ErrParticipantNotFound
	}

	changed, err := s.battleRepo.Deactivate(ctx, bID, uID)
	if err != nil {
		s.l.Errorf(ctx, "service.readinessService.Quit: %v", err)
		return QuitOutput{}, err
	}
	p.Active = false

	remaining := len(models.ActiveParticipants(ps))
	out := QuitOutput{BattleID: bID, UserID: uID, Remaining: remaining}

	if changed {
		if b.Status == models.BattleStatusInProgress {
			if err := s.tracker.RemoveFromRanking(ctx, bID, uID); err != nil {
				s.l.Warnf(ctx, "service.readinessService.Quit: remove from ranking: %v", err)
			}
		}

		s.l.Infof(ctx, "Participant quit battle_id=%s user_id=%s remaining=%d", bID, uID, remaining)
		s.pub.Notice(ctx, bID, Notice{
			Type:      NoticeQuit,
			BattleID:  bID,
			UserID:    uID,
			Timestamp: s.now(),
		})
	}

	if remaining < s.cfg.MinParticipants {
		outcome, err := s.Finish(ctx, bID, "")
		if err != nil {
			return out, err
		}
		out.ForcedFinish = true
		out.Finish = outcome
		return out, nil
	}

	switch {
	case b.Status == models.BattleStatusStandby && models.AllReady(ps):
		if _, err := s.Start(ctx, bID); err != nil && !errors.Is(err, ErrNotAllReady) {
			s.l.Warnf(ctx, "service.readinessService.Quit: start: %v", err)
		}
	case b.Status == models.BattleStatusInProgress && b.Kind == models.BattleKindOnline:
		// The quitter may have been the last runner still on course.
		done, err := s.tracker.AllFinished(ctx, bID, userIDs(models.ActiveParticipants(ps)))
		if err != nil {
			s.l.Warnf(ctx, "service.readinessService.Quit: all finished: %v", err)
			return out, nil
		}
		if done {
			outcome, err := s.Finish(ctx, bID, "")
			if err != nil {
				return out, err
			}
			out.Finish = outcome
		}
	}

	return out, nil
}

// Finish is the single terminal path. Concurrent callers race on the
// completion write and only the winner broadcasts.
func (s *readinessService) Finish(ctx context.Context, bID, submitter string) (FinishOutcome, error) {
	b, ps, err := s.load(ctx, bID)
	if err != nil {
		return "", err
	}

	switch b.Status {
	case models.BattleStatusCompleted:
		return FinishOutcomeAlreadyCompleted, nil
	case models.BattleStatusStandby:
		won, err := s.cancel(ctx, b, cancelReasonRosterLeft, nil)
		if err != nil {
			return "", err
		}
		if !won {
			return FinishOutcomeAlreadyCompleted, nil
		}
		return FinishOutcomeCancelled, nil
	}

	var results []models.BattleResult
	switch b.Kind {
	case models.BattleKindOnline:
		results, err = s.results.BuildOnline(ctx, *b, ps)
		if err != nil {
			s.l.Errorf(ctx, "service.readinessService.Finish: %v", err)
			return "", err
		}
	case models.BattleKindOffline:
		results, err = s.offlineResults(ctx, b, ps, submitter)
		if err != nil {
			if errors.Is(err, ErrAlreadyFinished) {
				cur, gerr := s.battleRepo.Get(ctx, bID)
				if gerr == nil && cur.Status == models.BattleStatusCompleted {
					return FinishOutcomeAlreadyCompleted, nil
				}
			}
			return "", err
		}
	default:
		return "", ErrInvalidKind
	}

	won, err := s.results.Complete(ctx, *b, results)
	if err != nil {
		s.l.Errorf(ctx, "service.readinessService.Finish: %v", err)
		return "", err
	}
	if !won {
		return FinishOutcomeAlreadyCompleted, nil
	}

	at := s.now()
	if b.Kind == models.BattleKindOffline {
		if err := s.summarizer.Discard(ctx, bID, ps); err != nil {
			s.l.Warnf(ctx, "service.readinessService.Finish: discard logs: %v", err)
		}
	}

	metrics.BattlesCompleted.WithLabelValues(string(b.Kind)).Inc()

	s.pub.Complete(ctx, bID, CompleteOutput{
		BattleID:  bID,
		Results:   results,
		Timestamp: at,
	})

	if s.prod != nil {
		entries := make([]kafka.ResultEntry, 0, len(results))
		for _, r := range results {
			entries = append(entries, kafka.ResultEntry{
				UserID:        r.UserID,
				Rank:          r.Rank,
				PrevRating:    r.PrevRating,
				CurrRating:    r.CurrRating,
				RunStatus:     string(r.Running.RunStatus),
				TotalDistance: r.Running.TotalDistance,
				TotalTimeMs:   r.Running.TotalTimeMs,
			})
		}
		if err := s.prod.PublishBattleCompleted(ctx, kafka.BattleCompletedEvent{
			BattleID:    bID,
			Kind:        string(b.Kind),
			Results:     entries,
			CompletedAt: at,
		}); err != nil {
			s.l.Warnf(ctx, "service.readinessService.Finish: publish completed event: %v", err)
		}
	}

	return FinishOutcomeCompleted, nil
}

// offlineResults summarizes the submitter's log, or the longest log when the
// finish was forced. No log at all completes the battle without results.
func (s *readinessService) offlineResults(ctx context.Context, b *models.Battle, ps []models.Participant, submitter string) ([]models.BattleResult, error) {
	if submitter != "" {
		if findParticipant(ps, submitter) == nil {
			return nil, ErrParticipantNotFound
		}
	} else {
		uID, err := s.summarizer.LongestLog(ctx, *b, ps)
		if err != nil {
			return nil, err
		}
		if uID == "" {
			return nil, nil
		}
		submitter = uID
	}

	return s.summarizer.Finish(ctx, *b, ps, submitter)
}

func (s *readinessService) cancel(ctx context.Context, b *models.Battle, reason string, kicked []string) (bool, error) {
	at := s.now()
	won, err := s.battleRepo.Cancel(ctx, b.ID, at)
	if err != nil {
		s.l.Errorf(ctx, "service.readinessService.cancel: %v", err)
		return false, err
	}
	if !won {
		return false, nil
	}

	metrics.BattlesCancelled.Inc()
	s.l.Infof(ctx, "Battle cancelled battle_id=%s reason=%s", b.ID, reason)

	s.pub.Complete(ctx, b.ID, CompleteOutput{
		BattleID:  b.ID,
		Cancelled: true,
		Results:   []models.BattleResult{},
		Timestamp: at,
	})

	if s.prod != nil {
		if err := s.prod.PublishBattleCancelled(ctx, kafka.BattleCancelledEvent{
			BattleID:    b.ID,
			Reason:      reason,
			KickedIDs:   kicked,
			CancelledAt: at,
		}); err != nil {
			s.l.Warnf(ctx, "service.readinessService.cancel: publish cancelled event: %v", err)
		}
	}

	return true, nil
}

func findParticipant(ps []models.Participant, uID string) *models.Participant {
	for i := range ps {
		if ps[i].UserID == uID {
			return &ps[i]
		}
	}
	return nil
}

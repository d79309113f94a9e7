package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

type MatchProcessor interface {
	Start(ctx context.Context) error
	Stop() error
	ProcessPools(ctx context.Context) (int, error)
	GetStatus() ProcessorStatus
}

type ProcessorStatus struct {
	IsRunning     bool      `json:"is_running"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	LastProcessed time.Time `json:"last_processed,omitempty"`
	PoolsActive   int       `json:"pools_active"`
	TotalFormed   int64     `json:"total_formed"`
	ErrorCount    int64     `json:"error_count"`
}

type ProcessorConfig struct {
	ProcessInterval       time.Duration
	MaxPoolScan           int
	RetryAttempts         int
	RetryDelay            time.Duration
	ShutdownTimeout       time.Duration
	MaxProcessingDuration time.Duration
}

// matchProcessor is an in-process grouping step. It reads the pools, asks the
// strategy for groups and hands them over through the same battle and ticket
// contract an external grouper uses.
type matchProcessor struct {
	mmSvc     MatchmakingService
	battleSvc BattleService
	strategy  GroupingStrategy
	l         logger.Logger

	config ProcessorConfig

	mu        sync.RWMutex
	isRunning bool
	startedAt time.Time
	stopCh    chan struct{}
	ticker    *time.Ticker
	wg        sync.WaitGroup

	lastProcessed time.Time
	poolsActive   int
	totalFormed   int64
	errorCount    int64
}

func NewMatchProcessor(
	mmSvc MatchmakingService,
	battleSvc BattleService,
	strategy GroupingStrategy,
	l logger.Logger,
	cfg config.MatchmakingConfig,
) MatchProcessor {
	return &matchProcessor{
		mmSvc:     mmSvc,
		battleSvc: battleSvc,
		strategy:  strategy,
		l:         l,
		config: ProcessorConfig{
			ProcessInterval:       cfg.ProcessInterval,
			MaxPoolScan:           cfg.MaxPoolScan,
			RetryAttempts:         3,
			RetryDelay:            200 * time.Millisecond,
			ShutdownTimeout:       30 * time.Second,
			MaxProcessingDuration: 30 * time.Second,
		},
		stopCh: make(chan struct{}),
	}
}

func (mp *matchProcessor) Start(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.isRunning {
		return errors.New("match processor is already running")
	}

	mp.l.Infof(ctx, "Starting match processor interval=%s max_pool_scan=%d",
		mp.config.ProcessInterval, mp.config.MaxPoolScan)

	mp.isRunning = true
	mp.startedAt = time.Now()
	mp.ticker = time.NewTicker(mp.config.ProcessInterval)

	mp.wg.Go(func() {
		mp.processLoop(ctx)
	})

	return nil
}

func (mp *matchProcessor) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if !mp.isRunning {
		return errors.New("match processor is not running")
	}

	ctx := context.Background()
	mp.l.Info(ctx, "Stopping match processor...")

	close(mp.stopCh)
	if mp.ticker != nil {
		mp.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		mp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mp.l.Info(ctx, "Match processor stopped gracefully")
	case <-time.After(mp.config.ShutdownTimeout):
		mp.l.Warn(ctx, "Match processor shutdown timeout exceeded")
	}

	mp.isRunning = false
	return nil
}

func (mp *matchProcessor) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			mp.l.Info(ctx, "Match processor stopped due to context cancellation")
			return
		case <-mp.stopCh:
			return
		case <-mp.ticker.C:
			mp.tick(ctx)
		}
	}
}

func (mp *matchProcessor) tick(ctx context.Context) {
	startTime := time.Now()

	formed, err := mp.ProcessPools(ctx)
	if err != nil {
		mp.incrementErrorCount()
		mp.l.Errorf(ctx, "service.matchProcessor.tick: %v", err)
	}

	mp.mu.Lock()
	mp.lastProcessed = time.Now()
	mp.totalFormed += int64(formed)
	mp.mu.Unlock()

	if d := time.Since(startTime); d > mp.config.MaxProcessingDuration {
		mp.l.Warnf(ctx, "Pool processing took longer than expected duration=%s", d)
	}
}

// ProcessPools runs one pass over every active pool and returns how many
// battles were formed. A failing pool does not stop the others.
func (mp *matchProcessor) ProcessPools(ctx context.Context) (int, error) {
	keys, err := mp.mmSvc.ActivePools(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active pools: %w", err)
	}

	mp.mu.Lock()
	mp.poolsActive = len(keys)
	mp.mu.Unlock()

	formed := 0
	for _, key := range keys {
		n, err := mp.processPool(ctx, key)
		formed += n
		if err != nil {
			mp.incrementErrorCount()
			mp.l.Errorf(ctx, "service.matchProcessor.ProcessPools: criteria=%s: %v", key, err)
		}
	}

	return formed, nil
}

func (mp *matchProcessor) processPool(ctx context.Context, key models.CriteriaKey) (int, error) {
	pool, err := mp.mmSvc.Pool(ctx, key, int64(mp.config.MaxPoolScan))
	if err != nil {
		return 0, fmt.Errorf("failed to read pool: %w", err)
	}
	if len(pool) < key.GroupSize {
		return 0, nil
	}

	formed := 0
	for _, group := range mp.strategy.Group(key, pool) {
		if err := mp.formBattle(ctx, key, group); err != nil {
			mp.l.Warnf(ctx, "service.matchProcessor.processPool: criteria=%s: %v", key, err)
			continue
		}
		formed++
	}

	return formed, nil
}

func (mp *matchProcessor) formBattle(ctx context.Context, key models.CriteriaKey, group []models.QueueEntry) error {
	ps := make([]ParticipantInput, 0, len(group))
	uIDs := make([]string, 0, len(group))
	for _, e := range group {
		ps = append(ps, ParticipantInput{UserID: e.UserID})
		uIDs = append(uIDs, e.UserID)
	}

	out, err := mp.battleSvc.CreateBattle(ctx, CreateBattleInput{
		Kind:           models.BattleKindOnline,
		TargetDistance: float64(key.DistanceBucket),
		DistanceBucket: key.DistanceBucket,
		Participants:   ps,
	})
	if err != nil {
		return fmt.Errorf("failed to create battle: %w", err)
	}

	if err := mp.withRetry(ctx, func() error {
		return mp.mmSvc.IssueTickets(ctx, out.Battle.ID, uIDs)
	}); err != nil {
		return err
	}

	mp.l.Infof(ctx, "Match formed battle_id=%s criteria=%s user_ids=%v", out.Battle.ID, key, uIDs)

	return nil
}

func (mp *matchProcessor) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt < mp.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(mp.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := operation(); err != nil {
			lastErr = err
			mp.l.Warnf(ctx, "Operation failed, retrying attempt=%d max_attempts=%d: %v",
				attempt+1, mp.config.RetryAttempts, err)
			continue
		}

		return nil
	}

	return fmt.Errorf("operation failed after %d attempts: %w", mp.config.RetryAttempts, lastErr)
}

func (mp *matchProcessor) incrementErrorCount() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.errorCount++
}

func (mp *matchProcessor) GetStatus() ProcessorStatus {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return ProcessorStatus{
		IsRunning:     mp.isRunning,
		StartedAt:     mp.startedAt,
		LastProcessed: mp.lastProcessed,
		PoolsActive:   mp.poolsActive,
		TotalFormed:   mp.totalFormed,
		ErrorCount:    mp.errorCount,
	}
}

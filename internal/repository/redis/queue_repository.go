package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

type QueueRepository interface {
	AddToPool(ctx context.Context, entry models.QueueEntry) (prev string, err error)
	RemoveFromPool(ctx context.Context, uID string) (prev string, err error)
	GetEntry(ctx context.Context, uID string) (*models.QueueEntry, error)
	GetPoolMembers(ctx context.Context, key models.CriteriaKey, limit int64) ([]models.QueueEntry, error)
	GetPoolLength(ctx context.Context, key models.CriteriaKey) (int64, error)
	SaveTicket(ctx context.Context, t models.MatchTicket, ttl time.Duration) error
	ConsumeTicket(ctx context.Context, uID string) (*models.MatchTicket, error)
	ActivePools(ctx context.Context) ([]models.CriteriaKey, error)
}

var (
	ErrQueueContended = errors.New("queue entry changed concurrently")
)

const (
	poolKeyPrefix = "matchmaking:pool:"
	poolsKey      = "matchmaking:pools"

	queueWriteAttempts = 3
)

// enqueueScript moves a user into a pool, erasing the entry it had in the
// prior pool KEYS[5]. It writes nothing and returns nil when the entry no
// longer names ARGV[5] as its pool.
var enqueueScript = redis.NewScript(`
	local prev = redis.call('GET', KEYS[1]) or ''
	if prev ~= ARGV[5] then
		return false
	end
	if prev ~= '' then
		redis.call('ZREM', KEYS[5], ARGV[1])
	end
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
	redis.call('SADD', KEYS[4], ARGV[3])
	redis.call('SET', KEYS[1], ARGV[3])
	redis.call('SET', KEYS[3], ARGV[4])
	return prev
`)

// dequeueScript follows the same guard, with the prior pool in KEYS[3].
var dequeueScript = redis.NewScript(`
	local prev = redis.call('GET', KEYS[1]) or ''
	if prev ~= ARGV[2] then
		return false
	end
	if prev ~= '' then
		redis.call('ZREM', KEYS[3], ARGV[1])
	end
	redis.call('DEL', KEYS[1], KEYS[2])
	return prev
`)

type redisQueueRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisQueueRepository(cli *redis.Client, l logger.Logger) QueueRepository {
	return &redisQueueRepository{
		cli: cli,
		l:   l,
	}
}

// AddToPool reads the prior pool first so every key the script touches is
// declared. A concurrent move between the read and the script is retried.
func (r *redisQueueRepository) AddToPool(ctx context.Context, entry models.QueueEntry) (string, error) {
	crit := entry.Criteria.String()

	for range queueWriteAttempts {
		prev, err := r.currentCriteria(ctx, entry.UserID)
		if err != nil {
			r.l.Errorf(ctx, "redisQueueRepository.AddToPool: %v", err)
			return "", err
		}

		res, err := enqueueScript.Run(ctx, r.cli,
			[]string{r.entryKey(entry.UserID), r.poolKey(crit), r.waitKey(entry.UserID), poolsKey, r.priorPoolKey(prev, crit)},
			entry.UserID, entry.Rating, crit, entry.WaitStartTime.UnixMilli(), prev,
		).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			r.l.Errorf(ctx, "redisQueueRepository.AddToPool: %v", err)
			return "", err
		}

		r.l.Debugf(ctx, "Added to pool user_id=%s criteria=%s rating=%d prev=%q",
			entry.UserID, crit, entry.Rating, res)

		return res, nil
	}

	r.l.Warnf(ctx, "redisQueueRepository.AddToPool: user_id=%s: %v", entry.UserID, ErrQueueContended)
	return "", ErrQueueContended
}

func (r *redisQueueRepository) RemoveFromPool(ctx context.Context, uID string) (string, error) {
	for range queueWriteAttempts {
		prev, err := r.currentCriteria(ctx, uID)
		if err != nil {
			r.l.Errorf(ctx, "redisQueueRepository.RemoveFromPool: %v", err)
			return "", err
		}

		res, err := dequeueScript.Run(ctx, r.cli,
			[]string{r.entryKey(uID), r.waitKey(uID), r.priorPoolKey(prev, "")},
			uID, prev,
		).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			r.l.Errorf(ctx, "redisQueueRepository.RemoveFromPool: %v", err)
			return "", err
		}

		if res != "" {
			r.l.Debugf(ctx, "Removed from pool user_id=%s criteria=%s", uID, res)
		}

		return res, nil
	}

	r.l.Warnf(ctx, "redisQueueRepository.RemoveFromPool: user_id=%s: %v", uID, ErrQueueContended)
	return "", ErrQueueContended
}

// currentCriteria is "" when the user has no entry.
func (r *redisQueueRepository) currentCriteria(ctx context.Context, uID string) (string, error) {
	crit, err := r.cli.Get(ctx, r.entryKey(uID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return crit, err
}

// priorPoolKey is fallback's pool when there is no prior entry. The scripts
// leave that key alone.
func (r *redisQueueRepository) priorPoolKey(prev, fallback string) string {
	if prev == "" {
		return r.poolKey(fallback)
	}
	return r.poolKey(prev)
}

// GetEntry returns nil when the user is not queued. A missing wait-start
// marker leaves WaitStartTime zero.
func (r *redisQueueRepository) GetEntry(ctx context.Context, uID string) (*models.QueueEntry, error) {
	crit, err := r.cli.Get(ctx, r.entryKey(uID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.l.Errorf(ctx, "redisQueueRepository.GetEntry: %v", err)
		return nil, err
	}

	key, err := models.ParseCriteriaKey(crit)
	if err != nil {
		r.l.Errorf(ctx, "redisQueueRepository.GetEntry: %v", err)
		return nil, err
	}

	entry := &models.QueueEntry{Criteria: key, UserID: uID}

	score, err := r.cli.ZScore(ctx, r.poolKey(crit), uID).Result()
	switch {
	case err == nil:
		entry.Rating = int(score)
	case errors.Is(err, redis.Nil):
		// Index points at a pool the user already left.
		return nil, nil
	default:
		r.l.Errorf(ctx, "redisQueueRepository.GetEntry: %v", err)
		return nil, err
	}

	waitMs, err := r.cli.Get(ctx, r.waitKey(uID)).Int64()
	if err == nil {
		entry.WaitStartTime = time.UnixMilli(waitMs)
	} else if !errors.Is(err, redis.Nil) {
		r.l.Warnf(ctx, "redisQueueRepository.GetEntry wait marker: %v", err)
	}

	return entry, nil
}

func (r *redisQueueRepository) GetPoolMembers(ctx context.Context, key models.CriteriaKey, limit int64) ([]models.QueueEntry, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}

	zs, err := r.cli.ZRangeWithScores(ctx, r.poolKey(key.String()), 0, stop).Result()
	if err != nil {
		r.l.Errorf(ctx, "redisQueueRepository.GetPoolMembers: %v", err)
		return nil, err
	}

	entries := make([]models.QueueEntry, 0, len(zs))
	for _, z := range zs {
		uID, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.QueueEntry{
			Criteria: key,
			UserID:   uID,
			Rating:   int(z.Score),
		})
	}

	return entries, nil
}

func (r *redisQueueRepository) GetPoolLength(ctx context.Context, key models.CriteriaKey) (int64, error) {
	count, err := r.cli.ZCard(ctx, r.poolKey(key.String())).Result()
	if err != nil {
		r.l.Errorf(ctx, "redisQueueRepository.GetPoolLength: %v", err)
		return 0, err
	}

	return count, nil
}

func (r *redisQueueRepository) SaveTicket(ctx context.Context, t models.MatchTicket, ttl time.Duration) error {
	if err := r.cli.Set(ctx, r.ticketKey(t.UserID), t.BattleID, ttl).Err(); err != nil {
		r.l.Errorf(ctx, "redisQueueRepository.SaveTicket: %v", err)
		return err
	}

	return nil
}

// ConsumeTicket reads and deletes the ticket in one transaction. Returns nil if none exists.
func (r *redisQueueRepository) ConsumeTicket(ctx context.Context, uID string) (*models.MatchTicket, error) {
	key := r.ticketKey(uID)

	var get *redis.StringCmd
	if _, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	}); err != nil && !errors.Is(err, redis.Nil) {
		r.l.Errorf(ctx, "redisQueueRepository.ConsumeTicket: %v", err)
		return nil, err
	}

	bID, err := get.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.l.Errorf(ctx, "redisQueueRepository.ConsumeTicket: %v", err)
		return nil, err
	}

	return &models.MatchTicket{UserID: uID, BattleID: bID}, nil
}

// ActivePools lists every criteria key that currently has waiting users.
// Keys whose pool has drained are pruned from the registry.
func (r *redisQueueRepository) ActivePools(ctx context.Context) ([]models.CriteriaKey, error) {
	crits, err := r.cli.SMembers(ctx, poolsKey).Result()
	if err != nil {
		r.l.Errorf(ctx, "redisQueueRepository.ActivePools: %v", err)
		return nil, err
	}

	keys := make([]models.CriteriaKey, 0, len(crits))
	for _, crit := range crits {
		n, err := r.cli.ZCard(ctx, r.poolKey(crit)).Result()
		if err != nil {
			r.l.Errorf(ctx, "redisQueueRepository.ActivePools: %v", err)
			return nil, err
		}
		if n == 0 {
			if err := r.cli.SRem(ctx, poolsKey, crit).Err(); err != nil {
				r.l.Warnf(ctx, "redisQueueRepository.ActivePools prune %s: %v", crit, err)
			}
			continue
		}

		key, err := models.ParseCriteriaKey(crit)
		if err != nil {
			r.l.Warnf(ctx, "redisQueueRepository.ActivePools: %v", err)
			continue
		}
		keys = append(keys, key)
	}

	return keys, nil
}

func (r *redisQueueRepository) poolKey(crit string) string {
	return poolKeyPrefix + crit
}

func (r *redisQueueRepository) entryKey(uID string) string {
	return fmt.Sprintf("matchmaking:entry:%s", uID)
}

func (r *redisQueueRepository) waitKey(uID string) string {
	return "matchmaking:wait:" + uID
}

func (r *redisQueueRepository) ticketKey(uID string) string {
	return "matchmaking:ticket:" + uID
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

var (
	ErrSampleLogNotFound = errors.New("gps sample log not found")
)

type SampleRecord struct {
	MaxDistanceM float64
	CrossedKm    []int
}

// SampleLog is the full log of one participant, read back on finish.
type SampleLog struct {
	UserID       string
	Samples      []models.GPSSample
	MaxDistanceM float64
	MaxElapsedMs int64
	KmElapsedMs  map[int]int64
}

type GPSRepository interface {
	AppendSample(ctx context.Context, s models.GPSSample, ttl time.Duration) (SampleRecord, error)
	GetLog(ctx context.Context, bID, uID string) (*SampleLog, error)
	LongestLog(ctx context.Context, bID string, uIDs []string) (string, error)
	DeleteLogs(ctx context.Context, bID string, uIDs []string) error
}

// appendSampleScript keeps the earliest elapsed time per kilometre. Only the
// first write of a threshold is reported as a crossing.
var appendSampleScript = redis.NewScript(`
	redis.call('RPUSH', KEYS[1], ARGV[1])
	redis.call('EXPIRE', KEYS[1], ARGV[4])
	local d = tonumber(ARGV[2])
	local e = tonumber(ARGV[3])
	local maxd = tonumber(redis.call('HGET', KEYS[2], 'max') or '0')
	if d > maxd then
		maxd = d
		redis.call('HSET', KEYS[2], 'max', ARGV[2])
	end
	local maxe = tonumber(redis.call('HGET', KEYS[2], 'max_elapsed') or '0')
	if e > maxe then
		redis.call('HSET', KEYS[2], 'max_elapsed', ARGV[3])
	end
	local out = {tostring(maxd)}
	local km = math.floor(d / 1000)
	for k = 1, km do
		local field = 'km:' .. k
		if redis.call('HSETNX', KEYS[2], field, ARGV[3]) == 1 then
			table.insert(out, tostring(k))
		else
			local prev = tonumber(redis.call('HGET', KEYS[2], field))
			if e < prev then
				redis.call('HSET', KEYS[2], field, ARGV[3])
			end
		end
	end
	redis.call('EXPIRE', KEYS[2], ARGV[4])
	return out
`)

type redisGPSRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisGPSRepository(cli *redis.Client, l logger.Logger) GPSRepository {
	return &redisGPSRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisGPSRepository) AppendSample(ctx context.Context, s models.GPSSample, ttl time.Duration) (SampleRecord, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return SampleRecord{}, fmt.Errorf("failed to marshal sample: %w", err)
	}

	res, err := appendSampleScript.Run(ctx, r.cli,
		[]string{r.logKey(s.BattleID, s.UserID), r.splitsKey(s.BattleID, s.UserID)},
		string(data), s.DistanceM, s.ElapsedMs, ttlSeconds(ttl),
	).StringSlice()
	if err != nil {
		r.l.Errorf(ctx, "redisGPSRepository.AppendSample: %v", err)
		return SampleRecord{}, err
	}

	if len(res) == 0 {
		return SampleRecord{}, fmt.Errorf("unexpected append reply")
	}

	rec := SampleRecord{}
	rec.MaxDistanceM, _ = strconv.ParseFloat(res[0], 64)
	for _, v := range res[1:] {
		km, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		rec.CrossedKm = append(rec.CrossedKm, km)
	}

	return rec, nil
}

// GetLog reads a participant's log and splits in one round trip. The keys
// stay in place until DeleteLogs runs.
func (r *redisGPSRepository) GetLog(ctx context.Context, bID, uID string) (*SampleLog, error) {
	logKey := r.logKey(bID, uID)
	splitsKey := r.splitsKey(bID, uID)

	var (
		rangeCmd  *redis.StringSliceCmd
		splitsCmd *redis.MapStringStringCmd
	)
	if _, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, logKey, 0, -1)
		splitsCmd = pipe.HGetAll(ctx, splitsKey)
		return nil
	}); err != nil {
		r.l.Errorf(ctx, "redisGPSRepository.GetLog: %v", err)
		return nil, err
	}

	raw := rangeCmd.Val()
	if len(raw) == 0 {
		return nil, ErrSampleLogNotFound
	}

	lg := &SampleLog{
		UserID:      uID,
		Samples:     make([]models.GPSSample, 0, len(raw)),
		KmElapsedMs: map[int]int64{},
	}
	for _, item := range raw {
		var s models.GPSSample
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			r.l.Warnf(ctx, "redisGPSRepository.GetLog skip sample: %v", err)
			continue
		}
		lg.Samples = append(lg.Samples, s)
	}

	for field, val := range splitsCmd.Val() {
		switch {
		case field == "max":
			lg.MaxDistanceM, _ = strconv.ParseFloat(val, 64)
		case field == "max_elapsed":
			lg.MaxElapsedMs, _ = strconv.ParseInt(val, 10, 64)
		case strings.HasPrefix(field, "km:"):
			km, err := strconv.Atoi(strings.TrimPrefix(field, "km:"))
			if err != nil {
				continue
			}
			ms, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				continue
			}
			lg.KmElapsedMs[km] = ms
		}
	}

	return lg, nil
}

// LongestLog returns the user whose log reached the greatest distance, or "" if nobody has one.
func (r *redisGPSRepository) LongestLog(ctx context.Context, bID string, uIDs []string) (string, error) {
	if len(uIDs) == 0 {
		return "", nil
	}

	pipe := r.cli.Pipeline()
	cmds := make([]*redis.StringCmd, len(uIDs))
	for i, uID := range uIDs {
		cmds[i] = pipe.HGet(ctx, r.splitsKey(bID, uID), "max")
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		r.l.Errorf(ctx, "redisGPSRepository.LongestLog: %v", err)
		return "", err
	}

	best, bestDist := "", -1.0
	for i, cmd := range cmds {
		d, err := cmd.Float64()
		if err != nil {
			continue
		}
		if d > bestDist {
			best, bestDist = uIDs[i], d
		}
	}

	return best, nil
}

func (r *redisGPSRepository) DeleteLogs(ctx context.Context, bID string, uIDs []string) error {
	if len(uIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(uIDs)*2)
	for _, uID := range uIDs {
		keys = append(keys, r.logKey(bID, uID), r.splitsKey(bID, uID))
	}

	if err := r.cli.Del(ctx, keys...).Err(); err != nil {
		r.l.Errorf(ctx, "redisGPSRepository.DeleteLogs: %v", err)
		return err
	}

	return nil
}

func (r *redisGPSRepository) logKey(bID, uID string) string {
	return fmt.Sprintf("battle:%s:gps:%s", bID, uID)
}

func (r *redisGPSRepository) splitsKey(bID, uID string) string {
	return fmt.Sprintf("battle:%s:splits:%s", bID, uID)
}

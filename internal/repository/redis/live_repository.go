package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

var (
	ErrLiveStateNotFound = errors.New("live participant state not found")
)

type PositionUpdate struct {
	DistanceM float64
	SpeedMps  float64
	Pace      string
	Fix       models.GPSFix
}

type UpdateOutcome struct {
	Applied   bool
	DistanceM float64
}

type LiveRepository interface {
	Initialize(ctx context.Context, bID string, st models.LiveParticipantState, ttl time.Duration) (bool, error)
	UpdatePosition(ctx context.Context, bID, uID string, upd PositionUpdate, ttl time.Duration) (UpdateOutcome, error)
	MarkFinished(ctx context.Context, bID, uID string, targetM float64, finishMs int64) (bool, error)
	GetState(ctx context.Context, bID, uID string) (*models.LiveParticipantState, error)
	GetStates(ctx context.Context, bID string, uIDs []string) ([]models.LiveParticipantState, error)
	GetRanked(ctx context.Context, bID string) ([]models.LiveParticipantState, error)
	RemoveFromRanking(ctx context.Context, bID, uID string) error
}

var initLiveScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'display_name', ARGV[2], 'distance', '0',
		'speed', '0', 'pace', ARGV[3], 'start_at', ARGV[4], 'finished', '0')
	redis.call('EXPIRE', KEYS[1], ARGV[5])
	redis.call('ZADD', KEYS[2], 'NX', 0, ARGV[1])
	redis.call('EXPIRE', KEYS[2], ARGV[5])
	return 1
`)

// updateLiveScript never lowers the stored distance; a sample behind the
// current distance is reported stale and leaves the state untouched.
var updateLiveScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return {'missing', '0'}
	end
	local cur = tonumber(redis.call('HGET', KEYS[1], 'distance') or '0')
	local d = tonumber(ARGV[1])
	if d < cur then
		return {'stale', tostring(cur)}
	end
	redis.call('HSET', KEYS[1], 'distance', ARGV[1], 'speed', ARGV[2], 'pace', ARGV[3],
		'lat', ARGV[4], 'lng', ARGV[5], 'fix_at', ARGV[6])
	redis.call('EXPIRE', KEYS[1], ARGV[7])
	if redis.call('ZSCORE', KEYS[2], ARGV[8]) then
		redis.call('ZADD', KEYS[2], ARGV[1], ARGV[8])
	end
	redis.call('EXPIRE', KEYS[2], ARGV[7])
	return {'applied', ARGV[1]}
`)

var finishLiveScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return -1
	end
	if redis.call('HGET', KEYS[1], 'finished') == '1' then
		return 0
	end
	local d = tonumber(redis.call('HGET', KEYS[1], 'distance') or '0')
	if d < tonumber(ARGV[1]) then
		return 0
	end
	redis.call('HSET', KEYS[1], 'finished', '1', 'finish_ms', ARGV[2])
	return 1
`)

type redisLiveRepository struct {
	cli *redis.Client
	l   logger.Logger
}

func NewRedisLiveRepository(cli *redis.Client, l logger.Logger) LiveRepository {
	return &redisLiveRepository{
		cli: cli,
		l:   l,
	}
}

func (r *redisLiveRepository) Initialize(ctx context.Context, bID string, st models.LiveParticipantState, ttl time.Duration) (bool, error) {
	created, err := initLiveScript.Run(ctx, r.cli,
		[]string{r.liveKey(bID, st.UserID), r.rankingKey(bID)},
		st.UserID, st.DisplayName, st.Pace, st.StartTime.UnixMilli(), ttlSeconds(ttl),
	).Int()
	if err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.Initialize: %v", err)
		return false, err
	}

	return created == 1, nil
}

func (r *redisLiveRepository) UpdatePosition(ctx context.Context, bID, uID string, upd PositionUpdate, ttl time.Duration) (UpdateOutcome, error) {
	res, err := updateLiveScript.Run(ctx, r.cli,
		[]string{r.liveKey(bID, uID), r.rankingKey(bID)},
		upd.DistanceM, upd.SpeedMps, upd.Pace, upd.Fix.Lat, upd.Fix.Lng, upd.Fix.Time.UnixMilli(), ttlSeconds(ttl), uID,
	).StringSlice()
	if err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.UpdatePosition: %v", err)
		return UpdateOutcome{}, err
	}

	if len(res) != 2 {
		return UpdateOutcome{}, fmt.Errorf("unexpected update reply: %v", res)
	}

	dist, _ := strconv.ParseFloat(res[1], 64)
	switch res[0] {
	case "missing":
		return UpdateOutcome{}, ErrLiveStateNotFound
	case "stale":
		return UpdateOutcome{Applied: false, DistanceM: dist}, nil
	default:
		return UpdateOutcome{Applied: true, DistanceM: dist}, nil
	}
}

func (r *redisLiveRepository) MarkFinished(ctx context.Context, bID, uID string, targetM float64, finishMs int64) (bool, error) {
	res, err := finishLiveScript.Run(ctx, r.cli,
		[]string{r.liveKey(bID, uID)},
		targetM, finishMs,
	).Int()
	if err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.MarkFinished: %v", err)
		return false, err
	}

	if res < 0 {
		return false, ErrLiveStateNotFound
	}

	return res == 1, nil
}

func (r *redisLiveRepository) GetState(ctx context.Context, bID, uID string) (*models.LiveParticipantState, error) {
	vals, err := r.cli.HGetAll(ctx, r.liveKey(bID, uID)).Result()
	if err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.GetState: %v", err)
		return nil, err
	}

	if len(vals) == 0 {
		return nil, ErrLiveStateNotFound
	}

	st := parseLiveState(vals)
	return &st, nil
}

// GetStates skips users without live state.
func (r *redisLiveRepository) GetStates(ctx context.Context, bID string, uIDs []string) ([]models.LiveParticipantState, error) {
	if len(uIDs) == 0 {
		return nil, nil
	}

	pipe := r.cli.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(uIDs))
	for i, uID := range uIDs {
		cmds[i] = pipe.HGetAll(ctx, r.liveKey(bID, uID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.GetStates: %v", err)
		return nil, err
	}

	states := make([]models.LiveParticipantState, 0, len(uIDs))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		states = append(states, parseLiveState(vals))
	}

	return states, nil
}

// GetRanked returns the states of every user in the ranking index, highest
// distance first. The index score wins over the hash distance.
func (r *redisLiveRepository) GetRanked(ctx context.Context, bID string) ([]models.LiveParticipantState, error) {
	zs, err := r.cli.ZRevRangeWithScores(ctx, r.rankingKey(bID), 0, -1).Result()
	if err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.GetRanked: %v", err)
		return nil, err
	}

	if len(zs) == 0 {
		return nil, nil
	}

	uIDs := make([]string, 0, len(zs))
	scores := make(map[string]float64, len(zs))
	for _, z := range zs {
		uID, ok := z.Member.(string)
		if !ok {
			continue
		}
		uIDs = append(uIDs, uID)
		scores[uID] = z.Score
	}

	states, err := r.GetStates(ctx, bID, uIDs)
	if err != nil {
		return nil, err
	}

	for i := range states {
		if d, ok := scores[states[i].UserID]; ok {
			states[i].DistanceM = d
		}
	}

	return states, nil
}

func (r *redisLiveRepository) RemoveFromRanking(ctx context.Context, bID, uID string) error {
	if err := r.cli.ZRem(ctx, r.rankingKey(bID), uID).Err(); err != nil {
		r.l.Errorf(ctx, "redisLiveRepository.RemoveFromRanking: %v", err)
		return err
	}

	return nil
}

func (r *redisLiveRepository) liveKey(bID, uID string) string {
	return fmt.Sprintf("battle:%s:live:%s", bID, uID)
}

func (r *redisLiveRepository) rankingKey(bID string) string {
	return fmt.Sprintf("battle:%s:ranking", bID)
}

func parseLiveState(vals map[string]string) models.LiveParticipantState {
	st := models.LiveParticipantState{
		UserID:      vals["user_id"],
		DisplayName: vals["display_name"],
		Pace:        vals["pace"],
		IsFinished:  vals["finished"] == "1",
	}

	st.DistanceM, _ = strconv.ParseFloat(vals["distance"], 64)
	st.SpeedMps, _ = strconv.ParseFloat(vals["speed"], 64)
	st.FinishMs, _ = strconv.ParseInt(vals["finish_ms"], 10, 64)

	if ms, err := strconv.ParseInt(vals["start_at"], 10, 64); err == nil {
		st.StartTime = time.UnixMilli(ms)
	}

	if fixMs, err := strconv.ParseInt(vals["fix_at"], 10, 64); err == nil {
		lat, _ := strconv.ParseFloat(vals["lat"], 64)
		lng, _ := strconv.ParseFloat(vals["lng"], 64)
		st.LastFix = &models.GPSFix{Lat: lat, Lng: lng, Time: time.UnixMilli(fixMs)}
	}

	return st
}

func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		return 1
	}
	return secs
}

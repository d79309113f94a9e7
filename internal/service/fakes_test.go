package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vogiaan1904/runbattle/config"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/internal/relay"
	pgrepo "github.com/vogiaan1904/runbattle/internal/repository/postgres"
	repo "github.com/vogiaan1904/runbattle/internal/repository/redis"
	"github.com/vogiaan1904/runbattle/pkg/logger"
)

// memBattleRepository mirrors the compare-and-set semantics of the SQL
// repository under one mutex.
type memBattleRepository struct {
	mu           sync.Mutex
	battles      map[string]models.Battle
	participants map[string][]models.Participant
	results      map[string][]models.BattleResult
	completeWins int

	// completeErr fails Complete while set.
	completeErr error
	// beforeStart runs ahead of the start compare-and-set.
	beforeStart func()
}

func newMemBattleRepository() *memBattleRepository {
	return &memBattleRepository{
		battles:      map[string]models.Battle{},
		participants: map[string][]models.Participant{},
		results:      map[string][]models.BattleResult{},
	}
}

func (r *memBattleRepository) Create(_ context.Context, b models.Battle, ps []models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.battles[b.ID]; ok {
		return errors.New("duplicate battle")
	}
	r.battles[b.ID] = b
	cp := make([]models.Participant, len(ps))
	copy(cp, ps)
	r.participants[b.ID] = cp
	return nil
}

func (r *memBattleRepository) Get(_ context.Context, bID string) (*models.Battle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.battles[bID]
	if !ok {
		return nil, pgrepo.ErrNotFound
	}
	return &b, nil
}

func (r *memBattleRepository) ListParticipants(_ context.Context, bID string) ([]models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps := make([]models.Participant, len(r.participants[bID]))
	copy(ps, r.participants[bID])
	sort.Slice(ps, func(i, j int) bool { return ps[i].UserID < ps[j].UserID })
	return ps, nil
}

func (r *memBattleRepository) update(bID, uID string, f func(p *models.Participant) bool) bool {
	ps := r.participants[bID]
	for i := range ps {
		if ps[i].UserID == uID {
			return f(&ps[i])
		}
	}
	return false
}

func (r *memBattleRepository) SetReady(_ context.Context, bID, uID string, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.battles[bID].Status != models.BattleStatusStandby {
		return pgrepo.ErrNotFound
	}
	if !r.update(bID, uID, func(p *models.Participant) bool {
		if !p.Active {
			return false
		}
		p.Ready = ready
		return true
	}) {
		return pgrepo.ErrNotFound
	}
	return nil
}

func (r *memBattleRepository) Deactivate(_ context.Context, bID, uID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(bID, uID, func(p *models.Participant) bool {
		if !p.Active {
			return false
		}
		p.Active = false
		return true
	}), nil
}

func (r *memBattleRepository) DeactivateNotReady(_ context.Context, bID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.battles[bID].Status != models.BattleStatusStandby {
		return nil, nil
	}

	var kicked []string
	ps := r.participants[bID]
	for i := range ps {
		if ps[i].Active && !ps[i].Ready {
			ps[i].Active = false
			kicked = append(kicked, ps[i].UserID)
		}
	}
	return kicked, nil
}

func (r *memBattleRepository) Start(_ context.Context, bID string, at time.Time) (bool, error) {
	if r.beforeStart != nil {
		r.beforeStart()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.battles[bID]
	if !ok || b.Status != models.BattleStatusStandby {
		return false, nil
	}
	for _, p := range r.participants[bID] {
		if p.Active && !p.Ready {
			return false, nil
		}
	}
	b.Status = models.BattleStatusInProgress
	b.StartedAt = &at
	r.battles[bID] = b
	return true, nil
}

func (r *memBattleRepository) Cancel(_ context.Context, bID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.battles[bID]
	if !ok || b.Status != models.BattleStatusStandby {
		return false, nil
	}
	b.Status = models.BattleStatusCompleted
	b.Cancelled = true
	b.CompletedAt = &at
	r.battles[bID] = b
	return true, nil
}

func (r *memBattleRepository) Complete(_ context.Context, bID string, results []models.BattleResult, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completeErr != nil {
		return false, r.completeErr
	}
	b, ok := r.battles[bID]
	if !ok || b.Status == models.BattleStatusCompleted {
		return false, nil
	}
	b.Status = models.BattleStatusCompleted
	b.CompletedAt = &at
	r.battles[bID] = b
	r.results[bID] = append([]models.BattleResult(nil), results...)
	r.completeWins++
	return true, nil
}

func (r *memBattleRepository) ActiveBattleForUser(_ context.Context, uID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for bID, ps := range r.participants {
		if !r.battles[bID].Status.IsActive() {
			continue
		}
		for _, p := range ps {
			if p.UserID == uID && p.Active {
				return bID, nil
			}
		}
	}
	return "", nil
}

func (r *memBattleRepository) ListResults(_ context.Context, bID string) ([]models.BattleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]models.BattleResult(nil), r.results[bID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (r *memBattleRepository) battle(bID string) models.Battle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.battles[bID]
}

func (r *memBattleRepository) participant(bID, uID string) models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[bID] {
		if p.UserID == uID {
			return p
		}
	}
	return models.Participant{}
}

type fakeScheduler struct {
	mu    sync.Mutex
	delay time.Duration
	funcs []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	s.funcs = append(s.funcs, f)
}

func (s *fakeScheduler) fire() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()

	for _, f := range funcs {
		f()
	}
}

type fakeRating struct {
	ratings map[string]int
}

func (f fakeRating) RatingFor(_ context.Context, uID string, _ int) (int, error) {
	r, ok := f.ratings[uID]
	if !ok {
		return 0, errors.New("rating service unavailable")
	}
	return r, nil
}

type published struct {
	Dest    string
	Payload json.RawMessage
}

// recordingPublisher keeps every event in order of publishing.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, dest string, payload any) {
	data, _ := json.Marshal(payload)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{Dest: dest, Payload: data})
}

func (p *recordingPublisher) Ranking(ctx context.Context, bID string, payload any) {
	p.Publish(ctx, relay.RankingDestination(bID), payload)
}

func (p *recordingPublisher) Notice(ctx context.Context, bID string, payload any) {
	p.Publish(ctx, relay.NoticeDestination(bID), payload)
}

func (p *recordingPublisher) Complete(ctx context.Context, bID string, payload any) {
	p.Publish(ctx, relay.CompleteDestination(bID), payload)
}

func (p *recordingPublisher) Match(ctx context.Context, uID string, payload any) {
	p.Publish(ctx, relay.MatchDestination(uID), payload)
}

func (p *recordingPublisher) to(dest string) []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []json.RawMessage
	for _, e := range p.events {
		if e.Dest == dest {
			out = append(out, e.Payload)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type rig struct {
	redis      *miniredis.Miniredis
	battleRepo *memBattleRepository
	liveRepo   repo.LiveRepository
	gpsRepo    repo.GPSRepository
	queueRepo  repo.QueueRepository
	pub        *recordingPublisher
	sched      *fakeScheduler
	clock      *fakeClock

	tracker    TrackerService
	summarizer SummarizerService
	results    ResultService
	readiness  ReadinessService
	battles    BattleService
	mm         MatchmakingService
}

func testBattleConfig() config.BattleConfig {
	return config.BattleConfig{
		ReadyTimeout:    60 * time.Second,
		LiveStateTTL:    6 * time.Hour,
		MinParticipants: 2,
		DefaultRating:   1000,
		RatingKFactor:   32,
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()

	s := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	l := logger.InitializeTestZapLogger()
	cfg := testBattleConfig()
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}

	r := &rig{
		redis:      s,
		battleRepo: newMemBattleRepository(),
		liveRepo:   repo.NewRedisLiveRepository(cli, l),
		gpsRepo:    repo.NewRedisGPSRepository(cli, l),
		queueRepo:  repo.NewRedisQueueRepository(cli, l),
		pub:        &recordingPublisher{},
		sched:      &fakeScheduler{},
		clock:      clock,
	}

	tr := NewTrackerService(r.liveRepo, r.pub, cfg, l).(*trackerService)
	tr.now = clock.Now
	r.tracker = tr

	sm := NewSummarizerService(r.gpsRepo, r.pub, cfg, l).(*summarizerService)
	sm.now = clock.Now
	r.summarizer = sm

	rs := NewResultService(r.battleRepo, r.tracker, cfg, l).(*resultService)
	rs.now = clock.Now
	r.results = rs

	rd := NewReadinessService(r.battleRepo, r.tracker, r.summarizer, r.results, r.pub, nil, r.sched, cfg, l).(*readinessService)
	rd.now = clock.Now
	r.readiness = rd

	rating := fakeRating{ratings: map[string]int{}}
	bs := NewBattleService(r.battleRepo, r.readiness, r.tracker, r.summarizer, r.results, rating, cfg, l).(*battleService)
	bs.now = clock.Now
	r.battles = bs

	mm := NewMatchmakingService(r.queueRepo, r.battleRepo, rating, r.pub, cfg, config.MatchmakingConfig{
		TicketTTL:   5 * time.Minute,
		MaxPoolScan: 200,
	}, l).(*matchmakingService)
	mm.now = clock.Now
	r.mm = mm

	return r
}

func (r *rig) createBattle(t *testing.T, kind models.BattleKind, targetKm float64, uIDs ...string) models.Battle {
	t.Helper()

	ps := make([]ParticipantInput, 0, len(uIDs))
	for _, uID := range uIDs {
		ps = append(ps, ParticipantInput{UserID: uID, DisplayName: "runner-" + uID})
	}

	out, err := r.battles.CreateBattle(context.Background(), CreateBattleInput{
		Kind:           kind,
		TargetDistance: targetKm,
		Participants:   ps,
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}
	return out.Battle
}

func (r *rig) startBattle(t *testing.T, kind models.BattleKind, targetKm float64, uIDs ...string) models.Battle {
	t.Helper()

	b := r.createBattle(t, kind, targetKm, uIDs...)
	for _, uID := range uIDs {
		if _, err := r.readiness.ToggleReady(context.Background(), b.ID, uID, true); err != nil {
			t.Fatalf("toggle ready: %v", err)
		}
	}
	if got := r.battleRepo.battle(b.ID).Status; got != models.BattleStatusInProgress {
		t.Fatalf("battle not started: %s", got)
	}
	return r.battleRepo.battle(b.ID)
}

func (r *rig) sample(uID string, distanceM float64, at time.Time) GPSSampleInput {
	return GPSSampleInput{UserID: uID, DistanceM: distanceM, SpeedMps: 3, RecordedAt: &at}
}

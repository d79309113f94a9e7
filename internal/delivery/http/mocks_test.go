package http

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/internal/service"
)

type mockBattleService struct {
	mock.Mock
}

func (m *mockBattleService) CreateBattle(ctx context.Context, in service.CreateBattleInput) (service.BattleOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(service.BattleOutput), args.Error(1)
}

func (m *mockBattleService) GetBattle(ctx context.Context, bID string) (service.BattleOutput, error) {
	args := m.Called(ctx, bID)
	return args.Get(0).(service.BattleOutput), args.Error(1)
}

func (m *mockBattleService) IngestSample(ctx context.Context, bID string, in service.GPSSampleInput) (service.IngestOutput, error) {
	args := m.Called(ctx, bID, in)
	return args.Get(0).(service.IngestOutput), args.Error(1)
}

func (m *mockBattleService) Rankings(ctx context.Context, bID string) (service.RankingsOutput, error) {
	args := m.Called(ctx, bID)
	return args.Get(0).(service.RankingsOutput), args.Error(1)
}

func (m *mockBattleService) Results(ctx context.Context, bID string) ([]models.BattleResult, error) {
	args := m.Called(ctx, bID)
	return args.Get(0).([]models.BattleResult), args.Error(1)
}

type mockReadinessService struct {
	mock.Mock
}

func (m *mockReadinessService) ToggleReady(ctx context.Context, bID, uID string, ready bool) (service.ToggleReadyOutput, error) {
	args := m.Called(ctx, bID, uID, ready)
	return args.Get(0).(service.ToggleReadyOutput), args.Error(1)
}

func (m *mockReadinessService) Start(ctx context.Context, bID string) (service.StartOutcome, error) {
	args := m.Called(ctx, bID)
	return args.Get(0).(service.StartOutcome), args.Error(1)
}

func (m *mockReadinessService) OnTimeout(ctx context.Context, bID string) (service.TimeoutOutcome, error) {
	args := m.Called(ctx, bID)
	return args.Get(0).(service.TimeoutOutcome), args.Error(1)
}

func (m *mockReadinessService) ScheduleTimeout(bID string) {
	m.Called(bID)
}

func (m *mockReadinessService) Quit(ctx context.Context, bID, uID string) (service.QuitOutput, error) {
	args := m.Called(ctx, bID, uID)
	return args.Get(0).(service.QuitOutput), args.Error(1)
}

func (m *mockReadinessService) Finish(ctx context.Context, bID, submitter string) (service.FinishOutcome, error) {
	args := m.Called(ctx, bID, submitter)
	return args.Get(0).(service.FinishOutcome), args.Error(1)
}

type mockMatchmakingService struct {
	mock.Mock
}

func (m *mockMatchmakingService) Enqueue(ctx context.Context, in service.EnqueueInput) (service.EnqueueOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(service.EnqueueOutput), args.Error(1)
}

func (m *mockMatchmakingService) Dequeue(ctx context.Context, uID string) error {
	return m.Called(ctx, uID).Error(0)
}

func (m *mockMatchmakingService) PollStatus(ctx context.Context, uID string) (service.QueueStatusOutput, error) {
	args := m.Called(ctx, uID)
	return args.Get(0).(service.QueueStatusOutput), args.Error(1)
}

func (m *mockMatchmakingService) IssueTickets(ctx context.Context, bID string, uIDs []string) error {
	return m.Called(ctx, bID, uIDs).Error(0)
}

func (m *mockMatchmakingService) Pool(ctx context.Context, key models.CriteriaKey, limit int64) ([]models.QueueEntry, error) {
	args := m.Called(ctx, key, limit)
	return args.Get(0).([]models.QueueEntry), args.Error(1)
}

func (m *mockMatchmakingService) ActivePools(ctx context.Context) ([]models.CriteriaKey, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.CriteriaKey), args.Error(1)
}

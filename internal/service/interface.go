package service

import (
	"context"
	"time"

	"github.com/vogiaan1904/runbattle/internal/models"
)

type MatchmakingService interface {
	Enqueue(ctx context.Context, in EnqueueInput) (EnqueueOutput, error)
	Dequeue(ctx context.Context, uID string) error
	PollStatus(ctx context.Context, uID string) (QueueStatusOutput, error)
	IssueTickets(ctx context.Context, bID string, uIDs []string) error
	Pool(ctx context.Context, key models.CriteriaKey, limit int64) ([]models.QueueEntry, error)
	ActivePools(ctx context.Context) ([]models.CriteriaKey, error)
}

type BattleService interface {
	CreateBattle(ctx context.Context, in CreateBattleInput) (BattleOutput, error)
	GetBattle(ctx context.Context, bID string) (BattleOutput, error)
	IngestSample(ctx context.Context, bID string, in GPSSampleInput) (IngestOutput, error)
	Rankings(ctx context.Context, bID string) (RankingsOutput, error)
	Results(ctx context.Context, bID string) ([]models.BattleResult, error)
}

type ReadinessService interface {
	ToggleReady(ctx context.Context, bID, uID string, ready bool) (ToggleReadyOutput, error)
	Start(ctx context.Context, bID string) (StartOutcome, error)
	OnTimeout(ctx context.Context, bID string) (TimeoutOutcome, error)
	ScheduleTimeout(bID string)
	Quit(ctx context.Context, bID, uID string) (QuitOutput, error)
	Finish(ctx context.Context, bID, submitter string) (FinishOutcome, error)
}

type TrackerService interface {
	Initialize(ctx context.Context, b models.Battle, p models.Participant, start time.Time) error
	UpdatePosition(ctx context.Context, b models.Battle, s models.GPSSample) (PositionOutput, error)
	MarkFinished(ctx context.Context, b models.Battle, uID string, finishMs int64) (bool, error)
	GetRankings(ctx context.Context, b models.Battle) ([]models.RankingEntry, error)
	AllFinished(ctx context.Context, bID string, uIDs []string) (bool, error)
	States(ctx context.Context, bID string, uIDs []string) ([]models.LiveParticipantState, error)
	RemoveFromRanking(ctx context.Context, bID, uID string) error
}

type SummarizerService interface {
	ProcessSample(ctx context.Context, b models.Battle, s models.GPSSample) (SampleSnapshot, error)
	Finish(ctx context.Context, b models.Battle, ps []models.Participant, submitter string) ([]models.BattleResult, error)
	LongestLog(ctx context.Context, b models.Battle, ps []models.Participant) (string, error)
	Discard(ctx context.Context, bID string, ps []models.Participant) error
}

type ResultService interface {
	BuildOnline(ctx context.Context, b models.Battle, ps []models.Participant) ([]models.BattleResult, error)
	Complete(ctx context.Context, b models.Battle, results []models.BattleResult) (bool, error)
	Results(ctx context.Context, bID string) ([]models.BattleResult, error)
}

// RatingProvider looks up a user's rating for a distance bucket.
type RatingProvider interface {
	RatingFor(ctx context.Context, uID string, distanceBucket int) (int, error)
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// GroupingStrategy picks groups out of one matchmaking pool. Entries arrive
// ordered by rating, lowest first.
type GroupingStrategy interface {
	Group(key models.CriteriaKey, pool []models.QueueEntry) [][]models.QueueEntry
}

type timeScheduler struct{}

func NewTimeScheduler() Scheduler {
	return timeScheduler{}
}

func (timeScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

package service

import (
	"time"

	"github.com/vogiaan1904/runbattle/internal/models"
)

type EnqueueInput struct {
	UserID         string `json:"user_id" validate:"required"`
	DistanceBucket int    `json:"distance_bucket" validate:"gt=0"`
	GroupSize      int    `json:"group_size" validate:"gte=2,lte=10"`
}

type EnqueueOutput struct {
	UserID        string    `json:"user_id"`
	Criteria      string    `json:"criteria"`
	Rating        int       `json:"rating"`
	WaitStartTime time.Time `json:"wait_start_time"`
}

type QueueStatusOutput struct {
	UserID      string             `json:"user_id"`
	Status      models.MatchStatus `json:"status"`
	BattleID    string             `json:"battle_id,omitempty"`
	Criteria    string             `json:"criteria,omitempty"`
	Rating      int                `json:"rating,omitempty"`
	WaitSeconds int64              `json:"wait_seconds,omitempty"`
}

type ParticipantInput struct {
	UserID      string `json:"user_id" validate:"required"`
	DisplayName string `json:"display_name"`
}

type CreateBattleInput struct {
	BattleID       string             `json:"battle_id,omitempty"`
	Kind           models.BattleKind  `json:"kind" validate:"required,oneof=ONLINE OFFLINE"`
	TargetDistance float64            `json:"target_distance_km" validate:"gt=0"`
	DistanceBucket int                `json:"distance_bucket" validate:"gte=0"`
	Participants   []ParticipantInput `json:"participants" validate:"min=2,dive"`
}

type BattleOutput struct {
	Battle       models.Battle        `json:"battle"`
	Participants []models.Participant `json:"participants"`
	// Existing is set when a create with a known battle id found it stored.
	Existing bool `json:"-"`
}

type ToggleReadyOutput struct {
	BattleID string `json:"battle_id"`
	UserID   string `json:"user_id"`
	Ready    bool   `json:"ready"`
	AllReady bool   `json:"all_ready"`
	Started  bool   `json:"started"`
}

type StartOutcome string

const (
	StartOutcomeStarted        StartOutcome = "STARTED"
	StartOutcomeAlreadyStarted StartOutcome = "ALREADY_STARTED"
)

type TimeoutOutcome string

const (
	TimeoutOutcomeStarted        TimeoutOutcome = "STARTED"
	TimeoutOutcomeAlreadyStarted TimeoutOutcome = "ALREADY_STARTED"
	TimeoutOutcomeCancelled      TimeoutOutcome = "CANCELLED"
	TimeoutOutcomeNoop           TimeoutOutcome = "NOOP"
)

type FinishOutcome string

const (
	FinishOutcomeCompleted        FinishOutcome = "COMPLETED"
	FinishOutcomeCancelled        FinishOutcome = "CANCELLED"
	FinishOutcomeAlreadyCompleted FinishOutcome = "ALREADY_COMPLETED"
)

type QuitOutput struct {
	BattleID     string        `json:"battle_id"`
	UserID       string        `json:"user_id"`
	Remaining    int           `json:"remaining"`
	ForcedFinish bool          `json:"forced_finish"`
	Finish       FinishOutcome `json:"finish,omitempty"`
}

type GPSSampleInput struct {
	UserID     string     `json:"user_id" validate:"required"`
	Lat        float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64    `json:"lng" validate:"gte=-180,lte=180"`
	DistanceM  float64    `json:"distance_m" validate:"gte=0"`
	SpeedMps   float64    `json:"speed_mps" validate:"gte=0"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// PositionOutput is the tracker's answer to one online sample.
type PositionOutput struct {
	UserID      string  `json:"user_id"`
	Applied     bool    `json:"applied"`
	DistanceM   float64 `json:"distance_m"`
	Pace        string  `json:"pace"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	Finished    bool    `json:"finished"`
	JustCrossed bool    `json:"just_finished"`
}

// SampleSnapshot is the summarizer's broadcastable view after one offline sample.
type SampleSnapshot struct {
	UserID         string  `json:"user_id"`
	AvgPace        string  `json:"avg_pace"`
	TotalDistanceM float64 `json:"total_distance_m"`
	RemainingM     float64 `json:"remaining_m"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	CrossedKm      int     `json:"crossed_km,omitempty"`
	TargetReached  bool    `json:"target_reached"`
}

// IngestOutput carries whichever view the battle kind produced.
type IngestOutput struct {
	BattleID string            `json:"battle_id"`
	Kind     models.BattleKind `json:"kind"`
	Position *PositionOutput   `json:"position,omitempty"`
	Snapshot *SampleSnapshot   `json:"snapshot,omitempty"`
	Finish   FinishOutcome     `json:"finish,omitempty"`
}

// Notice is pushed on a battle's notice destination.
type Notice struct {
	Type      string    `json:"type"`
	BattleID  string    `json:"battle_id"`
	UserID    string    `json:"user_id,omitempty"`
	UserIDs   []string  `json:"user_ids,omitempty"`
	Ready     *bool     `json:"ready,omitempty"`
	AllReady  bool      `json:"all_ready,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	NoticeReady   = "READY"
	NoticeStarted = "STARTED"
	NoticeKicked  = "KICKED"
	NoticeQuit    = "QUIT"
	NoticeSample  = "SAMPLE"
)

type RankingsOutput struct {
	BattleID string                `json:"battle_id"`
	Rankings []models.RankingEntry `json:"rankings"`
}

type CompleteOutput struct {
	BattleID  string                `json:"battle_id"`
	Cancelled bool                  `json:"cancelled"`
	Results   []models.BattleResult `json:"results"`
	Timestamp time.Time             `json:"timestamp"`
}

package kafka

import "time"

// Events published BY Battle Service

type BattleStartedEvent struct {
	BattleID       string    `json:"battle_id"`
	Kind           string    `json:"kind"`
	TargetDistance float64   `json:"target_distance_km"`
	UserIDs        []string  `json:"user_ids"`
	StartedAt      time.Time `json:"started_at"`
	Timestamp      time.Time `json:"timestamp"`
}

type ResultEntry struct {
	UserID        string  `json:"user_id"`
	Rank          int     `json:"rank"`
	PrevRating    int     `json:"prev_rating"`
	CurrRating    int     `json:"curr_rating"`
	RunStatus     string  `json:"run_status"`
	TotalDistance float64 `json:"total_distance_m"`
	TotalTimeMs   int64   `json:"total_time_ms"`
}

type BattleCompletedEvent struct {
	BattleID    string        `json:"battle_id"`
	Kind        string        `json:"kind"`
	Results     []ResultEntry `json:"results"`
	CompletedAt time.Time     `json:"completed_at"`
	Timestamp   time.Time     `json:"timestamp"`
}

type BattleCancelledEvent struct {
	BattleID    string    `json:"battle_id"`
	Reason      string    `json:"reason"` // ready_timeout, roster_left
	KickedIDs   []string  `json:"kicked_ids,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// Events consumed BY Battle Service

// MatchFormedEvent is written by the external grouping process once it has
// picked a group out of a matchmaking pool.
type MatchFormedEvent struct {
	BattleID       string   `json:"battle_id,omitempty"`
	DistanceBucket int      `json:"distance_bucket"`
	GroupSize      int      `json:"group_size"`
	TargetDistance float64  `json:"target_distance_km"`
	UserIDs        []string `json:"user_ids"`
}

type RecruitMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// RecruitClosedEvent carries the roster of an offline crew run.
type RecruitClosedEvent struct {
	RecruitID      string          `json:"recruit_id"`
	TargetDistance float64         `json:"target_distance_km"`
	Members        []RecruitMember `json:"members"`
	Timestamp      time.Time       `json:"timestamp"`
}

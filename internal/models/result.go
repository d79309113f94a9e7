package models

import "time"

type RunStatus string

const (
	RunStatusFinished   RunStatus = "FINISHED"
	RunStatusIncomplete RunStatus = "INCOMPLETE"
	RunStatusQuit       RunStatus = "QUIT"
)

type RunningType string

const (
	RunningTypeBattleOnline  RunningType = "BATTLE_ONLINE"
	RunningTypeBattleOffline RunningType = "BATTLE_OFFLINE"
)

func RunningTypeFor(k BattleKind) RunningType {
	if k == BattleKindOffline {
		return RunningTypeBattleOffline
	}
	return RunningTypeBattleOnline
}

type Split struct {
	Km        int    `json:"km"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Pace      string `json:"pace"`
}

type RunningResult struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	TotalDistance float64     `json:"total_distance_m"`
	TotalTimeMs   int64       `json:"total_time_ms"`
	AvgPace       string      `json:"avg_pace"`
	Splits        []Split     `json:"splits"`
	RunStatus     RunStatus   `json:"run_status"`
	RunningType   RunningType `json:"running_type"`
	StartedAt     time.Time   `json:"started_at"`
}

type BattleResult struct {
	BattleID   string        `json:"battle_id"`
	UserID     string        `json:"user_id"`
	Rank       int           `json:"rank"`
	PrevRating int           `json:"prev_rating"`
	CurrRating int           `json:"curr_rating"`
	Running    RunningResult `json:"running"`
}

package models

import "time"

type GPSFix struct {
	Lat  float64   `json:"lat"`
	Lng  float64   `json:"lng"`
	Time time.Time `json:"time"`
}

// GPSSample is one position report from a participant device.
type GPSSample struct {
	BattleID   string    `json:"battle_id"`
	UserID     string    `json:"user_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	DistanceM  float64   `json:"distance_m"`
	SpeedMps   float64   `json:"speed_mps"`
	RecordedAt time.Time `json:"recorded_at"`
	ElapsedMs  int64     `json:"elapsed_ms"`
}

type LiveParticipantState struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	DistanceM   float64   `json:"distance_m"`
	SpeedMps    float64   `json:"speed_mps"`
	Pace        string    `json:"pace"`
	LastFix     *GPSFix   `json:"last_fix,omitempty"`
	StartTime   time.Time `json:"start_time"`
	IsFinished  bool      `json:"is_finished"`
	FinishMs    int64     `json:"finish_ms,omitempty"`
}

type RankingEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	DistanceM   float64 `json:"distance_m"`
	RemainingM  float64 `json:"remaining_m"`
	Progress    float64 `json:"progress_percent"`
	Pace        string  `json:"pace"`
	IsFinished  bool    `json:"is_finished"`
	FinishMs    int64   `json:"finish_ms,omitempty"`
}

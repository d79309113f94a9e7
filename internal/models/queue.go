package models

import (
	"fmt"
	"time"
)

// CriteriaKey identifies one matchmaking pool.
type CriteriaKey struct {
	DistanceBucket int `json:"distance_bucket"`
	GroupSize      int `json:"group_size"`
}

func (k CriteriaKey) String() string {
	return fmt.Sprintf("%d:%d", k.DistanceBucket, k.GroupSize)
}

// ParseCriteriaKey is the inverse of CriteriaKey.String.
func ParseCriteriaKey(s string) (CriteriaKey, error) {
	var k CriteriaKey
	if _, err := fmt.Sscanf(s, "%d:%d", &k.DistanceBucket, &k.GroupSize); err != nil {
		return CriteriaKey{}, fmt.Errorf("invalid criteria key %q: %w", s, err)
	}
	return k, nil
}

type QueueEntry struct {
	Criteria      CriteriaKey `json:"criteria"`
	UserID        string      `json:"user_id"`
	Rating        int         `json:"rating"`
	WaitStartTime time.Time   `json:"wait_start_time"`
}

type MatchTicket struct {
	UserID   string `json:"user_id"`
	BattleID string `json:"battle_id"`
}

type MatchStatus string

const (
	MatchStatusNone    MatchStatus = "NONE"
	MatchStatusWaiting MatchStatus = "WAITING"
	MatchStatusMatched MatchStatus = "MATCHED"
)

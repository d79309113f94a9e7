package models

import "time"

type BattleStatus string

const (
	BattleStatusStandby    BattleStatus = "STANDBY"
	BattleStatusInProgress BattleStatus = "IN_PROGRESS"
	BattleStatusCompleted  BattleStatus = "COMPLETED"
)

// order returns the position of the status along STANDBY -> IN_PROGRESS -> COMPLETED.
func (s BattleStatus) order() int {
	switch s {
	case BattleStatusStandby:
		return 0
	case BattleStatusInProgress:
		return 1
	case BattleStatusCompleted:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
func (s BattleStatus) CanTransitionTo(next BattleStatus) bool {
	return s.order() >= 0 && next.order() > s.order()
}

func (s BattleStatus) IsActive() bool {
	return s == BattleStatusStandby || s == BattleStatusInProgress
}

type BattleKind string

const (
	BattleKindOnline  BattleKind = "ONLINE"
	BattleKindOffline BattleKind = "OFFLINE"
)

func (k BattleKind) Valid() bool {
	return k == BattleKindOnline || k == BattleKindOffline
}

type Battle struct {
	ID             string       `json:"id"`
	Kind           BattleKind   `json:"kind"`
	TargetDistance float64      `json:"target_distance_km"`
	DistanceBucket int          `json:"distance_bucket"`
	Status         BattleStatus `json:"status"`
	Cancelled      bool         `json:"cancelled"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// TargetMeters is the target distance in the unit GPS samples are reported in.
func (b *Battle) TargetMeters() float64 {
	return b.TargetDistance * 1000
}

func (b *Battle) IsRated() bool {
	return b.Kind == BattleKindOnline
}

type Participant struct {
	BattleID    string `json:"battle_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Rating      int    `json:"rating"`
	Ready       bool   `json:"ready"`
	Active      bool   `json:"active"`
}

// ActiveParticipants filters out kicked or quit participants.
func ActiveParticipants(ps []Participant) []Participant {
	out := make([]Participant, 0, len(ps))
	for _, p := range ps {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}

// AllReady reports whether every active participant has confirmed. An empty roster is never ready.
func AllReady(ps []Participant) bool {
	active := 0
	for _, p := range ps {
		if !p.Active {
			continue
		}
		active++
		if !p.Ready {
			return false
		}
	}
	return active > 0
}

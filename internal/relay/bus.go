package relay

import (
	"context"
	"encoding/json"
)

// Event is one destination-addressed payload carried between instances.
type Event struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// Bus carries events between server instances. Order is preserved within a
// channel; delivery is best-effort.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe blocks, calling handle for every received event, until ctx is done.
	Subscribe(ctx context.Context, handle func(Event)) error
}

const (
	destBattlePrefix = "/topic/battle/"
	destUserPrefix   = "/topic/user/"
)

func RankingDestination(bID string) string {
	return destBattlePrefix + bID + "/ranking"
}

func NoticeDestination(bID string) string {
	return destBattlePrefix + bID + "/notice"
}

func CompleteDestination(bID string) string {
	return destBattlePrefix + bID + "/complete"
}

func MatchDestination(uID string) string {
	return destUserPrefix + uID + "/match"
}

package kafka

const (
	TopicMatchFormed   = "battle.match_formed"
	TopicRecruitClosed = "battle.recruit_closed"

	TopicBattleStarted   = "battle.started"
	TopicBattleCompleted = "battle.completed"
	TopicBattleCancelled = "battle.cancelled"
)

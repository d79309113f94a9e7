package http

type readyRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Ready  *bool  `json:"ready" validate:"required"`
}

type userRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// finishRequest names the submitter of an offline battle. Online battles
// accept an empty body.
type finishRequest struct {
	UserID string `json:"user_id"`
}

type outcomeResponse struct {
	BattleID string `json:"battle_id"`
	Outcome  string `json:"outcome"`
}

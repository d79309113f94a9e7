package service

import "errors"

var (
	ErrBattleNotFound      = errors.New("battle not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidState        = errors.New("invalid battle state")
	ErrNotAllReady         = errors.New("not all participants are ready")
	ErrAlreadyFinished     = errors.New("battle already finished")
	ErrAlreadyInBattle     = errors.New("user already has an active battle")
	ErrInvalidKind         = errors.New("invalid battle kind")
	ErrNotEnoughRunners    = errors.New("not enough participants")
	ErrInvalidSample       = errors.New("invalid gps sample")
	ErrInvalidCriteria     = errors.New("invalid matchmaking criteria")
	ErrInvalidTarget       = errors.New("target distance must be positive")
)

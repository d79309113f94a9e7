package http

import (
	"errors"
	"net/http"

	"github.com/vogiaan1904/runbattle/internal/service"
	pkgErrors "github.com/vogiaan1904/runbattle/pkg/errors"
)

const (
	errCodeInvalidBody = 40001
	errCodeValidation  = 40002
)

var (
	errInvalidBody       = pkgErrors.NewHTTPError(errCodeInvalidBody, "Invalid request body", http.StatusBadRequest)
	errInvalidKind       = pkgErrors.NewHTTPError(40003, "Battle kind must be ONLINE or OFFLINE", http.StatusBadRequest)
	errInvalidTarget     = pkgErrors.NewHTTPError(40004, "Target distance must be positive", http.StatusBadRequest)
	errNotEnoughRunners  = pkgErrors.NewHTTPError(40005, "Not enough participants", http.StatusBadRequest)
	errInvalidSample     = pkgErrors.NewHTTPError(40006, "Invalid GPS sample", http.StatusBadRequest)
	errInvalidCriteria   = pkgErrors.NewHTTPError(40007, "Invalid matchmaking criteria", http.StatusBadRequest)
	errBattleNotFound    = pkgErrors.NewHTTPError(40401, "Battle not found", http.StatusNotFound)
	errParticipantAbsent = pkgErrors.NewHTTPError(40402, "Participant not found", http.StatusNotFound)
	errInvalidState      = pkgErrors.NewHTTPError(40901, "Battle is not in a valid state for this action", http.StatusConflict)
	errNotAllReady       = pkgErrors.NewHTTPError(40902, "Not all participants are ready", http.StatusConflict)
	errAlreadyInBattle   = pkgErrors.NewHTTPError(40903, "User already has an active battle", http.StatusConflict)
	errAlreadyFinished   = pkgErrors.NewHTTPError(40904, "Battle already finished", http.StatusConflict)
)

// mapError translates service errors into client-facing errors. It reports
// false for anything unexpected.
func mapError(err error) (*pkgErrors.HTTPError, bool) {
	switch {
	case errors.Is(err, service.ErrInvalidKind):
		return errInvalidKind, true
	case errors.Is(err, service.ErrInvalidTarget):
		return errInvalidTarget, true
	case errors.Is(err, service.ErrNotEnoughRunners):
		return errNotEnoughRunners, true
	case errors.Is(err, service.ErrInvalidSample):
		return errInvalidSample, true
	case errors.Is(err, service.ErrInvalidCriteria):
		return errInvalidCriteria, true
	case errors.Is(err, service.ErrBattleNotFound):
		return errBattleNotFound, true
	case errors.Is(err, service.ErrParticipantNotFound):
		return errParticipantAbsent, true
	case errors.Is(err, service.ErrInvalidState):
		return errInvalidState, true
	case errors.Is(err, service.ErrNotAllReady):
		return errNotAllReady, true
	case errors.Is(err, service.ErrAlreadyInBattle):
		return errAlreadyInBattle, true
	case errors.Is(err, service.ErrAlreadyFinished):
		return errAlreadyFinished, true
	}
	return nil, false
}

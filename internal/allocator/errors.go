package allocator

import (
	"errors"
	"fmt"

	"gameRoster/internal/repo"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrClosed               = errors.New("event is closed for registration")
	ErrInvalidIdentity      = errors.New("a display name is required")
	ErrInvalidRole          = errors.New("role must be PLAYER or GOALKEEPER")
	ErrAlreadyJoined        = errors.New("already joined this event")
	ErrConflict             = errors.New("concurrent registration conflict")
	ErrUnauthorized         = errors.New("not allowed to modify this participant")
	ErrRegistrationRequired = errors.New("this event requires a signed-in user")
	ErrStorageFailure       = errors.New("storage failure")
	ErrInvalidEvent         = errors.New("invalid event")
	ErrInvalidProfile       = errors.New("invalid profile")
)

// storeErr maps a store error onto the engine's taxonomy. Engine errors pass
// through untouched so a fn returning one keeps its meaning.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isEngineErr(err):
		return err
	case errors.Is(err, repo.ErrEventNotFound), errors.Is(err, repo.ErrParticipantNotFound),
		errors.Is(err, repo.ErrProfileNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repo.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

func isEngineErr(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrClosed, ErrInvalidIdentity, ErrInvalidRole, ErrAlreadyJoined,
		ErrConflict, ErrUnauthorized, ErrRegistrationRequired, ErrStorageFailure, ErrInvalidEvent,
		ErrInvalidProfile,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Reason codes returned to clients.
const (
	ReasonBadCredentials     = "bad_credentials"
	ReasonWrongPhase         = "wrong_phase"
	ReasonAlreadyCommitted   = "already_committed"
	ReasonAlreadyRevealed    = "already_revealed"
	ReasonNotCommitted       = "not_committed"
	ReasonDeadlinePassed     = "deadline_passed"
	ReasonMatchFinished      = "match_finished"
	ReasonCommitmentMismatch = "commitment_mismatch"
	ReasonConcurrentUpdate   = "concurrent_modification"
	ReasonNotFound           = "not_found"
	ReasonInvalidRequest     = "invalid_request"
	ReasonInternal           = "internal_error"
)

// AuthenticationError: credentials do not match the fighter. No state change.
type AuthenticationError struct {
	FighterID string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for fighter %s", e.FighterID)
}

// PhaseError: the operation is not valid in the match's current phase, or a
// hard deadline has passed. No state change.
type PhaseError struct {
	Reason string
	Hint   string
	Phase  string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase error (%s) in %s: %s", e.Reason, e.Phase, e.Hint)
}

// CommitmentMismatchError: revealed move/salt does not hash to the commitment.
type CommitmentMismatchError struct{}

func (e *CommitmentMismatchError) Error() string { return "revealed move does not match commitment" }

// ConcurrentModificationError: a conditional write lost its race too many
// times. The caller should refetch state.
type ConcurrentModificationError struct {
	MatchID string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("match %s was modified concurrently", e.MatchID)
}

type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.What, e.ID) }

type ValidationError struct {
	Hint string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Hint }

// StorageError wraps a persistence failure. Its text never reaches clients.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// errConflict is internal: a conditional write matched no row.
var errConflict = errors.New("conditional write matched no row")

// ErrorResponse maps any engine error to an HTTP status and a client-safe body.
func ErrorResponse(err error) (int, fiber.Map) {
	var (
		authErr     *AuthenticationError
		phaseErr    *PhaseError
		mismatchErr *CommitmentMismatchError
		concErr     *ConcurrentModificationError
		nfErr       *NotFoundError
		valErr      *ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		return fiber.StatusUnauthorized, fiber.Map{"error": ReasonBadCredentials, "hint": "check fighter id and credentials"}
	case errors.As(err, &phaseErr):
		return fiber.StatusConflict, fiber.Map{"error": phaseErr.Reason, "hint": phaseErr.Hint, "phase": phaseErr.Phase}
	case errors.As(err, &mismatchErr):
		return fiber.StatusUnprocessableEntity, fiber.Map{"error": ReasonCommitmentMismatch, "hint": "move and salt must hash to your commitment"}
	case errors.As(err, &concErr):
		return fiber.StatusConflict, fiber.Map{"error": ReasonConcurrentUpdate, "hint": "match changed while processing, fetch status and retry"}
	case errors.As(err, &nfErr):
		return fiber.StatusNotFound, fiber.Map{"error": ReasonNotFound, "hint": nfErr.What + " not found"}
	case errors.As(err, &valErr):
		return fiber.StatusBadRequest, fiber.Map{"error": ReasonInvalidRequest, "hint": valErr.Hint}
	}
	return fiber.StatusInternalServerError, fiber.Map{"error": ReasonInternal, "hint": "try again later"}
}

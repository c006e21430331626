package models

// ConflictError signals a no-op precondition failure. Callers must re-fetch
// state before retrying rather than retry blindly.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return e.Message
}

// Conflict errors
var (
	// ErrNothingToDeploy: deploy called with no pending draft
	ErrNothingToDeploy = ConflictError{"no pending changes to deploy"}
	// ErrNothingToCancel: cancel called with no pending draft
	ErrNothingToCancel = ConflictError{"no pending changes to cancel"}
	// ErrNoPriorSnapshot: rollback requested for a device that was never updated
	ErrNoPriorSnapshot = ConflictError{"device has no pre-update snapshot to restore"}
	// ErrVersionConflict: a concurrent writer committed first (lost update detected)
	ErrVersionConflict = ConflictError{"target state was modified concurrently"}
	// ErrInvalidTransition: rollout operation not valid in its current status
	ErrInvalidTransition = ConflictError{"invalid rollout state transition"}
)

// NotFoundError signals an unknown id, terminal for the request
type NotFoundError struct {
	Message string
}

func (e NotFoundError) Error() string {
	return e.Message
}

// Not-found errors
var (
	ErrRolloutNotFound       = NotFoundError{"rollout not found"}
	ErrRolloutDeviceNotFound = NotFoundError{"device is not part of this rollout"}
)

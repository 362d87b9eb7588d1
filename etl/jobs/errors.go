package jobs

import "github.com/linuxautomates/gitsei-sub052/errors"

// Claim and unclaim outcomes. These are routine under contention and are
// returned to callers, not logged as errors.
var (
	// ErrClaimConflict means another worker changed the instance first
	ErrClaimConflict = errors.Wrap(errors.ErrConflict, "claim conflict")

	// ErrAlreadyRunning means the instance is not in a claimable state
	ErrAlreadyRunning = errors.Wrap(errors.ErrConflict, "job instance already running")

	// ErrDefinitionInactive means the owning definition is switched off
	ErrDefinitionInactive = errors.New("job definition is inactive")

	// ErrNotOwner means the caller does not hold the instance
	ErrNotOwner = errors.New("worker does not own job instance")
)

package fleet

import "errors"

var (
	ErrAccountNotFound = errors.New("fleet: telephony account not found")
	ErrAgentNotFound   = errors.New("fleet: voice agent not found")

	// ErrNoBackupNumber means the backup pool of an account has no unassigned number left.
	ErrNoBackupNumber = errors.New("fleet: no unassigned backup phone number")
)

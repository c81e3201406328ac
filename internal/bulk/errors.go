package bulk

import "errors"

var (
	// ErrJobActive is returned when an owner submits while a job is still live.
	ErrJobActive = errors.New("a bulk job is already active for this owner")
	// ErrJobNotFound is returned for status/cancel/resume with no known job.
	ErrJobNotFound = errors.New("no bulk job found")
	// ErrCheckpointMismatch means a resume attempt referenced a checkpoint
	// written for a different manifest or different settings.
	ErrCheckpointMismatch = errors.New("checkpoint does not match this manifest")
)

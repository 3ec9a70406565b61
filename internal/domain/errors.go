package domain

import "errors"

var (
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrDispatchUnreachable = errors.New("print backend unreachable")
	ErrDispatchTimeout     = errors.New("print backend did not respond")
	ErrRemoteFailure       = errors.New("print backend reported failure")
	ErrDeletionFailed      = errors.New("source file deletion failed")
	ErrUnknownJob          = errors.New("unknown job id")
	ErrJobNotFound         = errors.New("job not found")
)

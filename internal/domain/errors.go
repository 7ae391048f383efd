package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrJobNotFound is returned for operations addressing a job id the
	// registry has never seen.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal signals a push or transition against a job that already
	// reached completed/failed/canceled. Callers treat it as a no-op.
	ErrJobTerminal = errors.New("job already terminal")

	// ErrJobCanceled is raised back into a running pipeline driver when it
	// pushes progress for a canceled job. The driver must stop its loop, not
	// retry.
	ErrJobCanceled = errors.New("job canceled")
)

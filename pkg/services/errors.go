package services

import "errors"

var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("job not found")

	// ErrNotRunning is returned when a result is posted against a job that
	// was never claimed (finish-without-claim).
	ErrNotRunning = errors.New("job not in running state")

	// ErrNoJobsAvailable indicates the claim found no matching queued job.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

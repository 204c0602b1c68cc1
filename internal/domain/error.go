package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownAction   = errors.New("unknown generation action")

	// Job lifecycle
	ErrJobNotClaimable = errors.New("job is not claimable")
	ErrJobTimeout      = errors.New("job timed out before the upstream reply completed")

	// Upstream / configuration
	ErrNoCredential         = errors.New("no usable AI provider credential configured; add an API key in settings or ask an admin to configure a shared key")
	ErrRateLimited          = errors.New("upstream rate limited")
	ErrRateLimitExhausted   = errors.New("upstream rate limit persisted after retries; wait a minute and try again, or lower the request volume")
	ErrNonRetryable         = errors.New("upstream call failed")
	ErrStreamAborted        = errors.New("upstream stream aborted before completion")
	ErrStreamingUnsupported = errors.New("provider does not support streaming")
	ErrEmptyReply           = errors.New("upstream returned an empty reply")

	// Infra
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

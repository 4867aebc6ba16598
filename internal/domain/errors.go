package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrJobRunning        = errors.New("job is running")
	ErrProviderFailure   = errors.New("provider failure")
)

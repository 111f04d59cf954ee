package app

import "errors"

var (
	// ErrValidation indicates a record that fails input checks. It is never retried.
	ErrValidation = errors.New("validation failed")
	// ErrStorageUnavailable indicates initialization kept failing after retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrClosed             = errors.New("journal closed")
	ErrInvalidExport      = errors.New("invalid export document")
	ErrBackupDisabled     = errors.New("backup storage not configured")
	ErrPremiumDisabled    = errors.New("premium checks not configured")
)

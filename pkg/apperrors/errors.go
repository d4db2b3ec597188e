package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrScanInProgress         = errors.New("scan already in progress")
	ErrGitHubNotConnected     = errors.New("github account not connected")
	ErrCredentialsKeyMismatch = errors.New("github token was encrypted with a different key")
)

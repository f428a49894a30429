package dispatch

import "errors"

// ValidationError marks input the caller must correct before resubmitting.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

var (
	ErrEmptyIdentity      = &ValidationError{"username is required"}
	ErrEmptyRecipientList = &ValidationError{"no recipients provided"}
	ErrEmptyMessage       = &ValidationError{"message cannot be empty"}
	ErrInvalidCount       = &ValidationError{"count must be at least 1"}
	ErrInvalidDelayBounds = &ValidationError{"delays must satisfy 0 <= minDelay <= maxDelay"}

	ErrRunInProgress = errors.New("a dispatch is already running for this account")
	ErrCancelled     = errors.New("dispatch cancelled")
	ErrEngineClosed  = errors.New("dispatch engine is shut down")
)

// IsValidation reports whether err was caused by malformed input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

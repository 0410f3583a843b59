package dataset

import "errors"

// ErrInvalidIdentity is wrapped by validation errors raised when a register
// request names neither a fresh lineage nor a parent version.
var ErrInvalidIdentity = errors.New("either project and name or parent_id is required")

// ValidationError reports invalid operation input. It is returned before any
// store call is made.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Err.Error()
	}
	return "validation: " + e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

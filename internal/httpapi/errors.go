package httpapi

import "errors"

// Sentinel errors classified into HTTP status codes by the handler wrapper,
// generalizing the teacher's package-level Err... + errors.Is convention
// (dispatcher_src_ref/errors.go) to this package's request-validation
// boundary.
var (
	ErrValidation      = errors.New("validation failed")
	ErrTaskNotFound    = errors.New("task profile not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrRunNotFound     = errors.New("run not found")
	ErrReadOnlyViolation = errors.New("statement is not read-only")
)

package session

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. The HTTP layer maps ErrAdmission, ErrWrongStage,
// ErrNotFound and ErrMalformed to 422; the no-content paths (absent value,
// wait-for-recalc) have no sentinel and are handled by the caller inspecting a Result, not an
// error.
var (
	ErrAdmission  = errors.New("admission rejected")
	ErrWrongStage = errors.New("session is in wrong stage")
	ErrNotFound   = errors.New("session not found")
	ErrMalformed  = errors.New("malformed payload")
)

// DomainError wraps a sentinel kind with a human-readable message, mirroring
// the string-keyed errors the coordinator this was modeled on returns to its
// callers.
type DomainError struct {
	Kind error
	Msg  string
}

func (e *DomainError) Error() string { return e.Msg }

func (e *DomainError) Unwrap() error { return e.Kind }

func newAdmissionErr(format string, args ...any) error {
	return &DomainError{Kind: ErrAdmission, Msg: fmt.Sprintf(format, args...)}
}

func newWrongStageErr(format string, args ...any) error {
	return &DomainError{Kind: ErrWrongStage, Msg: fmt.Sprintf(format, args...)}
}

func newNotFoundErr(format string, args ...any) error {
	return &DomainError{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func newMalformedErr(format string, args ...any) error {
	return &DomainError{Kind: ErrMalformed, Msg: fmt.Sprintf(format, args...)}
}

// Package faults defines the closed set of failure kinds that modules and
// services report and the dispatch controller translates into HTTP responses.
package faults

import "fmt"

type Kind int

const (
	// Validation covers client-caused input problems: malformed payloads,
	// missing fields, invalid step or session references.
	Validation Kind = iota
	// ContractViolation is a failed pre or post contract evaluation.
	ContractViolation
	// NotFound covers unknown modules and unknown sessions.
	NotFound
	// RateLimited means the per-minute window for the caller is exhausted.
	RateLimited
	// Internal is everything unexpected.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case ContractViolation:
		return "contract_violation"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case Internal:
		return "internal"
	}
	return "unknown"
}

// Error is the single error type crossing module boundaries. Phase is set for
// contract violations ("pre" or "post"); Context carries the violation list.
type Error struct {
	Kind    Kind
	Message string
	Phase   string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

func Internalf(cause error, format string, args ...any) *Error {
	return &Error{Kind: Internal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Contract(phase, message string, context map[string]any) *Error {
	return &Error{Kind: ContractViolation, Message: message, Phase: phase, Context: context}
}

// AsError returns err as *Error, wrapping anything unexpected as Internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*Error); ok {
		return fe
	}
	return &Error{Kind: Internal, Message: err.Error(), Cause: err}
}

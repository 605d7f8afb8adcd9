// Package errors provides structured error types for hilo.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Code represents a unique error code.
type Code string

// Error codes for hilo.
const (
	// Hardware errors
	CodeTransientHardware Code = "TRANSIENT_HARDWARE_FAILURE"
	CodeFatalBoot         Code = "FATAL_BOOT_FAILURE"
	CodeProbeBusy         Code = "PROBE_BUSY"

	// Control surface errors
	CodeCommandTimeout  Code = "COMMAND_TIMEOUT"
	CodeCommandRejected Code = "COMMAND_REJECTED"
	CodePauseTimeout    Code = "PAUSE_TIMEOUT"

	// Run errors
	CodeRunInvalidState Code = "RUN_INVALID_STATE"
	CodeRunNotFound     Code = "RUN_NOT_FOUND"

	// Plan and config errors
	CodePlanInvalid   Code = "PLAN_INVALID"
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeTransientHardware: CategoryUnavailable,
	CodeFatalBoot:         CategoryInternal,
	CodeProbeBusy:         CategoryConflict,
	CodeCommandTimeout:    CategoryTimeout,
	CodeCommandRejected:   CategoryConflict,
	CodePauseTimeout:      CategoryTimeout,
	CodeRunInvalidState:   CategoryConflict,
	CodeRunNotFound:       CategoryNotFound,
	CodePlanInvalid:       CategoryBadRequest,
	CodeConfigInvalid:     CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// HiloError is the structured error type for hilo.
type HiloError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *HiloError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *HiloError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *HiloError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *HiloError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *HiloError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *HiloError) MarshalJSON() ([]byte, error) {
	type alias HiloError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a HiloError with the same code.
func (e *HiloError) Is(target error) bool {
	t, ok := target.(*HiloError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *HiloError) WithCause(err error) *HiloError {
	return &HiloError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// Sentinels usable with errors.Is; comparison is by code only.
var (
	ErrTransientHardware = &HiloError{Code: CodeTransientHardware}
	ErrFatalBoot         = &HiloError{Code: CodeFatalBoot}
	ErrCommandTimeout    = &HiloError{Code: CodeCommandTimeout}
	ErrCommandRejected   = &HiloError{Code: CodeCommandRejected}
	ErrPauseTimeout      = &HiloError{Code: CodePauseTimeout}
	ErrRunInvalidState   = &HiloError{Code: CodeRunInvalidState}
	ErrProbeBusy         = &HiloError{Code: CodeProbeBusy}
)

// --- Error constructors ---

// TransientHardware wraps a single failed hardware action or poll miss.
func TransientHardware(step string, attempt int, cause error) *HiloError {
	return &HiloError{
		Code:  CodeTransientHardware,
		What:  fmt.Sprintf("step %s attempt %d failed", step, attempt),
		Cause: cause,
	}
}

// FatalBoot returns an error when retries are exhausted for a boot step.
func FatalBoot(step string, attempts int, cause error) *HiloError {
	return &HiloError{
		Code:  CodeFatalBoot,
		What:  fmt.Sprintf("step %s failed after %d attempts", step, attempts),
		Why:   "Maximum retry attempts exceeded without a confirmed boot",
		Fix:   "Check the probe connection and target power, then rerun the experiment",
		Cause: cause,
	}
}

// PollTimeout returns an error when the confirmation signal never reached its target.
func PollTimeout(path string, target, last uint64, timeout time.Duration) *HiloError {
	return &HiloError{
		Code: CodeTransientHardware,
		What: fmt.Sprintf("signal %s did not reach %#x within %s", path, target, timeout),
		Why:  fmt.Sprintf("last reading %#x", last),
	}
}

// CommandTimeout returns an error when the worker did not acknowledge a command in time.
func CommandTimeout(command string, wait time.Duration) *HiloError {
	return &HiloError{
		Code: CodeCommandTimeout,
		What: fmt.Sprintf("%s was not acknowledged within %s", command, wait),
		Why:  "The worker is inside a hardware action and has not reached a checkpoint",
		Fix:  "Re-issue the command, or wait for the current iteration to finish",
	}
}

// CommandRejected returns an error when the run finished before honoring a command.
func CommandRejected(command, runState string) *HiloError {
	return &HiloError{
		Code: CodeCommandRejected,
		What: fmt.Sprintf("%s was not applied", command),
		Why:  fmt.Sprintf("run is already %s", runState),
	}
}

// PauseTimeout returns an error when a pause outlasted the configured limit.
func PauseTimeout(limit time.Duration) *HiloError {
	return &HiloError{
		Code: CodePauseTimeout,
		What: fmt.Sprintf("run was paused longer than %s", limit),
		Why:  "No resume, cancel, or end command arrived while halted",
		Fix:  "Increase execution.pause_timeout in .hilo/config.yaml",
	}
}

// RunInvalidState returns an error when a run operation is not valid in its state.
func RunInvalidState(current, expected string) *HiloError {
	return &HiloError{
		Code: CodeRunInvalidState,
		What: fmt.Sprintf("run is %s, expected %s", current, expected),
		Why:  "A run can only be started once, from the idle state",
		Fix:  "Create a new run for each execution",
	}
}

// RunNotFound returns an error when a persisted run doesn't exist.
func RunNotFound(id string) *HiloError {
	return &HiloError{
		Code: CodeRunNotFound,
		What: fmt.Sprintf("run %s not found", id),
		Fix:  "Run 'hilo history' to list recorded runs",
	}
}

// PlanInvalid returns an error for an invalid experiment plan.
func PlanInvalid(source, reason string) *HiloError {
	return &HiloError{
		Code: CodePlanInvalid,
		What: fmt.Sprintf("invalid plan %s", source),
		Why:  reason,
		Fix:  "Run 'hilo validate' on the plan file and fix the reported fields",
	}
}

// ConfigInvalid returns an error for invalid configuration.
func ConfigInvalid(field, reason string) *HiloError {
	return &HiloError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .hilo/config.yaml and fix the invalid field",
	}
}

// ProbeBusy returns an error when another process owns the probe session.
func ProbeBusy(pid int) *HiloError {
	return &HiloError{
		Code: CodeProbeBusy,
		What: "debug probe is in use",
		Why:  fmt.Sprintf("hilo process %d holds the probe session", pid),
		Fix:  "Wait for that run to finish, or stop it with its control surface",
	}
}

// AsHiloError attempts to convert an error to a HiloError.
// Returns nil if the error is not a HiloError.
func AsHiloError(err error) *HiloError {
	var hiloErr *HiloError
	if As(err, &hiloErr) {
		return hiloErr
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if hiloErr, ok := err.(*HiloError); ok {
		if t, ok := target.(**HiloError); ok {
			*t = hiloErr
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a HiloError with unknown code.
func Wrap(err error, what string) *HiloError {
	return &HiloError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}

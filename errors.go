package planfsm

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the state machine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// No handler is registered for the event type
	ErrCodeUnhandledEvent
	// Guard evaluation failed
	ErrCodeGuardFailed
	// Action creation or execution failed
	ErrCodeActionFailed
	// Another transition is running on the same machine
	ErrCodeTransitionInProgress
	// Machine is not in started state
	ErrCodeMachineNotStarted
	// Machine is already started
	ErrCodeAlreadyStarted
	// Transition was requested by a state that is no longer active
	ErrCodeStaleTransition
	// Machine or state configuration is invalid
	ErrCodeInvalidConfiguration
	// Event is invalid
	ErrCodeInvalidEvent
)

// UnhandledEventError is returned by Handle when the active state has no
// handler for the event type
type UnhandledEventError struct {
	State string
	Event EventType
}

func (e *UnhandledEventError) Error() string {
	return fmt.Sprintf("unhandled event [%s in %s]: no handler registered", e.Event, e.State)
}

// NewUnhandledEventError creates a new unhandled event error
func NewUnhandledEventError(state string, event EventType) *UnhandledEventError {
	return &UnhandledEventError{
		State: state,
		Event: event,
	}
}

// GuardError reports a guard that failed while being evaluated. The
// candidate transition is abandoned before any action runs.
type GuardError struct {
	From  string
	To    string
	Event EventType
	Cause error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard failed [%s->%s on %s]: %v", e.From, e.To, e.Event, e.Cause)
}

func (e *GuardError) Unwrap() error {
	return e.Cause
}

// NewGuardError creates a new guard evaluation error
func NewGuardError(from, to string, event EventType, cause error) *GuardError {
	return &GuardError{
		From:  from,
		To:    to,
		Event: event,
		Cause: cause,
	}
}

// ActionError represents action creation or execution errors. Settled names
// the state the machine was left in, either the source (rolled back) or the
// target (fully advanced).
type ActionError struct {
	Action      string
	State       string
	Phase       string
	Settled     string
	OriginalErr error
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("%s action '%s' failed in state '%s'", e.Phase, e.Action, e.State)
	if e.OriginalErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.OriginalErr)
	}
	if e.Settled != "" {
		msg = fmt.Sprintf("%s (machine settled in '%s')", msg, e.Settled)
	}
	return msg
}

func (e *ActionError) Unwrap() error {
	return e.OriginalErr
}

// NewActionError creates a new action error
func NewActionError(action, state, phase string, err error) *ActionError {
	return &ActionError{
		Action:      action,
		State:       state,
		Phase:       phase,
		OriginalErr: err,
	}
}

// MachineError represents state machine operation errors
type MachineError struct {
	Code      ErrorCode
	Operation string
	Message   string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("machine error during %s: %s", e.Operation, e.Message)
}

// NewMachineError creates a new machine error
func NewMachineError(code ErrorCode, operation string, message string) *MachineError {
	return &MachineError{
		Code:      code,
		Operation: operation,
		Message:   message,
	}
}

// NewMachineNotStartedError creates a new machine not started error
func NewMachineNotStartedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeMachineNotStarted,
		Operation: operation,
		Message:   "state machine is not started",
	}
}

// ConfigurationError represents state or plan configuration issues
type ConfigurationError struct {
	Component string
	Issue     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Issue)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(component, issue string) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Issue:     issue,
	}
}

// IsUnhandledEvent checks if err is or wraps an UnhandledEventError
func IsUnhandledEvent(err error) bool {
	var e *UnhandledEventError
	return errors.As(err, &e)
}

// IsGuardError checks if err is or wraps a GuardError
func IsGuardError(err error) bool {
	var e *GuardError
	return errors.As(err, &e)
}

// IsActionError checks if err is or wraps an ActionError
func IsActionError(err error) bool {
	var e *ActionError
	return errors.As(err, &e)
}

// IsMachineError checks if err is or wraps a MachineError
func IsMachineError(err error) bool {
	var e *MachineError
	return errors.As(err, &e)
}

// IsConfigurationError checks if err is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	var (
		unhandled *UnhandledEventError
		guard     *GuardError
		action    *ActionError
		machine   *MachineError
		config    *ConfigurationError
	)
	switch {
	case errors.As(err, &unhandled):
		return ErrCodeUnhandledEvent
	case errors.As(err, &guard):
		return ErrCodeGuardFailed
	case errors.As(err, &action):
		return ErrCodeActionFailed
	case errors.As(err, &machine):
		return machine.Code
	case errors.As(err, &config):
		return ErrCodeInvalidConfiguration
	default:
		return ErrCodeNone
	}
}

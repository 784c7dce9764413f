package signaling

import (
	"errors"
	"fmt"
)

// Code identifies a recoverable signaling failure on the wire.
type Code string

const (
	CodeTargetOffline         Code = "TargetOffline"
	CodeNoOtherMembers        Code = "NoOtherMembers"
	CodeCallAlreadyInProgress Code = "CallAlreadyInProgress"
	CodeInvalidState          Code = "InvalidState"
	CodeDuplicateBinding      Code = "DuplicateBinding"
	CodeRelayTargetUnresolved Code = "RelayTargetUnresolved"
	CodeBadRequest            Code = "BadRequest"
)

// Error is a signaling failure that is reported to the originating
// connection as a call:error event.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrTargetOffline         = &Error{Code: CodeTargetOffline, Message: "target is offline"}
	ErrNoOtherMembers        = &Error{Code: CodeNoOtherMembers, Message: "no other members in room"}
	ErrCallAlreadyInProgress = &Error{Code: CodeCallAlreadyInProgress, Message: "call already in progress"}
	ErrInvalidState          = &Error{Code: CodeInvalidState, Message: "invalid call state"}
	ErrDuplicateBinding      = &Error{Code: CodeDuplicateBinding, Message: "connection already registered"}
	ErrRelayTargetUnresolved = &Error{Code: CodeRelayTargetUnresolved, Message: "relay target unresolved"}
	ErrBadRequest            = &Error{Code: CodeBadRequest, Message: "bad request"}

	ErrHubClosed = errors.New("signaling hub closed")
)

// CodeOf extracts the wire code of err, defaulting to BadRequest for
// errors that did not originate in this package.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeBadRequest
}

func wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Errorf attaches a detail message to sentinel for callers outside the hub,
// such as transports validating a frame before dispatch.
func Errorf(sentinel *Error, format string, args ...any) error {
	return wrap(sentinel, format, args...)
}

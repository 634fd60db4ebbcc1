package amqp

import (
	"fmt"

	"github.com/rhs/amqp/internal/encoding"
)

// ErrCond is an AMQP defined error condition symbol.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error
type ErrCond = encoding.Symbol

// Error conditions used by this engine. Not exhaustive of the AMQP spec's
// full condition list, but covers every condition the state machines in
// this module raise.
const (
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	ErrCondConnectionForced ErrCond = "amqp:connection:forced"
	ErrCondFramingError     ErrCond = "amqp:connection:framing-error"

	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"

	ErrCondDetachForced          ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondStolen                ErrCond = "amqp:link:stolen"

	ErrCondTransactionUnknownID ErrCond = "amqp:transaction:unknown-id"
	ErrCondTransactionRollback  ErrCond = "amqp:transaction:rollback"
)

// Error is the wire condition+description+info triple carried by Close,
// End, Detach and Rejected.
type Error = encoding.Error

// ConnectionError is fatal to an entire connection: every session and
// link on it is implicitly torn down alongside it.
type ConnectionError struct {
	Cond  ErrCond
	inner error
}

func newConnectionError(cond ErrCond, format string, args ...interface{}) *ConnectionError {
	return &ConnectionError{Cond: cond, inner: fmt.Errorf(format, args...)}
}

func (e *ConnectionError) Error() string {
	if e.inner == nil {
		return fmt.Sprintf("amqp: connection error (%s)", e.Cond)
	}
	return fmt.Sprintf("amqp: connection error (%s): %v", e.Cond, e.inner)
}

func (e *ConnectionError) asWireError() *Error {
	return &Error{Condition: e.Cond, Description: e.Error()}
}

// SessionError is fatal to the session it occurred on; the connection and
// its other sessions are unaffected.
type SessionError struct {
	Cond  ErrCond
	inner error
}

func newSessionError(cond ErrCond, format string, args ...interface{}) *SessionError {
	return &SessionError{Cond: cond, inner: fmt.Errorf(format, args...)}
}

func (e *SessionError) Error() string {
	if e.inner == nil {
		return fmt.Sprintf("amqp: session error (%s)", e.Cond)
	}
	return fmt.Sprintf("amqp: session error (%s): %v", e.Cond, e.inner)
}

func (e *SessionError) asWireError() *Error {
	return &Error{Condition: e.Cond, Description: e.Error()}
}

// LinkError is fatal only to the link it occurred on.
type LinkError struct {
	Cond  ErrCond
	inner error
}

func newLinkError(cond ErrCond, format string, args ...interface{}) *LinkError {
	return &LinkError{Cond: cond, inner: fmt.Errorf(format, args...)}
}

func (e *LinkError) Error() string {
	if e.inner == nil {
		return fmt.Sprintf("amqp: link error (%s)", e.Cond)
	}
	return fmt.Sprintf("amqp: link error (%s): %v", e.Cond, e.inner)
}

func (e *LinkError) asWireError() *Error {
	return &Error{Condition: e.Cond, Description: e.Error()}
}

// Package errors provides custom error types for the sync engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeProtocolFailure   ErrorCode = "PROTOCOL_FAILURE"
	ErrCodeDecodeFailure     ErrorCode = "DECODE_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation represents the type of sync operation
type Operation string

const (
	OpSync      Operation = "sync"
	OpSyncOnce  Operation = "sync_once"
	OpStart     Operation = "start"
	OpStop      Operation = "stop"
	OpCancel    Operation = "cancel"
	OpDispatch  Operation = "dispatch"
	OpDecode    Operation = "decode"
	OpStore     Operation = "store"
	OpLoad      Operation = "load"
	OpTransport Operation = "transport"
	OpClose     Operation = "close"
)

// Kind classifies an error for retry decisions.
type Kind string

const (
	KindOther     Kind = ""
	KindTransport Kind = "transport"
	KindProtocol  Kind = "protocol"
	KindDecode    Kind = "decode"
	KindCancelled Kind = "cancelled"
	KindStore     Kind = "store"
	KindInvalid   Kind = "invalid"
	KindClosed    Kind = "closed"
	KindInternal  Kind = "internal"
)

// retryableKinds are handled by the sync loop's retry policy.
var retryableKinds = map[Kind]bool{
	KindTransport: true,
	KindProtocol:  true,
	KindDecode:    true,
	KindStore:     true,
}

// Component names the part of the system that produced an error.
type Component string

// Op is the string form of an operation used with E.
type Op string

// SyncError represents an error that occurred during synchronization
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "transport")
	Component string

	// Kind classifies the failure
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	if e.Err == nil {
		return msg
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// E builds a SyncError from its arguments. Recognised argument types are
// Op, Operation, Component, Kind, ErrorCode, error and string. Strings are
// joined into the message of the wrapped error. A nested *SyncError passed as
// the error keeps its Kind and Retryable flag unless overridden.
func E(args ...interface{}) error {
	e := &SyncError{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = Operation(a)
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case *SyncError:
			e.Err = a
		case error:
			e.Err = a
		case string:
			msgs = append(msgs, a)
		}
	}

	if len(msgs) > 0 {
		msg := strings.Join(msgs, ": ")
		if e.Err != nil {
			e.Err = fmt.Errorf("%s: %w", msg, e.Err)
		} else {
			e.Err = errors.New(msg)
		}
	}

	if e.Kind == KindOther {
		var inner *SyncError
		if errors.As(e.Err, &inner) {
			e.Kind = inner.Kind
			e.Retryable = inner.Retryable
			if e.Code == "" {
				e.Code = inner.Code
			}
			return e
		}
		e.Kind = KindOf(e.Err)
	}
	e.Retryable = retryableKinds[e.Kind]
	return e
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Kind:      KindStore,
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Kind:      KindTransport,
		Err:       cause,
		Retryable: true,
	}
}

// NewDecodeError creates a new SyncError for an undecodable payload.
// Decode failures are retryable: another replica may answer correctly.
func NewDecodeError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeDecodeFailure,
		Op:        op,
		Component: "codec",
		Kind:      KindDecode,
		Err:       cause,
		Retryable: true,
	}
}

// NewCancelledError creates a terminal SyncError for caller-initiated cancellation.
func NewCancelledError(op Operation, cause error) *SyncError {
	return &SyncError{
		Op:   op,
		Kind: KindCancelled,
		Err:  cause,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}

// KindOf returns the Kind of the outermost SyncError carrying one.
// Context cancellation is reported as KindCancelled even when unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if se, ok := e.(*SyncError); ok && se.Kind != KindOther {
			return se.Kind
		}
		if _, ok := e.(*ProtocolError); ok {
			return KindProtocol
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindOther
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ProtocolError is a non-success response from the homeserver.
type ProtocolError struct {
	StatusCode int
	ErrCode    string
	Message    string
	RetryAfter time.Duration
}

func (e *ProtocolError) Error() string {
	if e.ErrCode == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	if e.Message == "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.ErrCode)
	}
	return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.ErrCode, e.Message)
}

// StatusCode returns the HTTP status of a ProtocolError in err's chain, or 0.
func StatusCode(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// ErrCode returns the Matrix errcode of a ProtocolError in err's chain.
func ErrCode(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.ErrCode
	}
	return ""
}

// RetryAfter returns the server-requested delay, if any.
func RetryAfter(err error) time.Duration {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

package ir

import (
	"errors"
	"fmt"
)

// Error is a domain error raised by the record lifecycle.
//
// Every rejection that protects an invariant is an *Error so that callers can
// tell "stale or duplicate" apart from "forged or invalid" without string
// matching. Lower-level failures (I/O, SQL) are wrapped with fmt.Errorf instead.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RecordID identifies the affected record, if known.
	RecordID RecordID

	// RequestID identifies the affected decryption request, if known.
	RequestID RequestID

	// Err is an optional underlying cause (e.g. a signature failure).
	Err error
}

// ErrorCode categorizes domain errors.
type ErrorCode string

const (
	// ErrCodeDuplicateOutstanding: a pending request of the same kind exists for the record.
	ErrCodeDuplicateOutstanding ErrorCode = "DUPLICATE_OUTSTANDING_REQUEST"

	// ErrCodeUnknownRequest: the request id was never issued, is the zero value, or was invalidated.
	ErrCodeUnknownRequest ErrorCode = "UNKNOWN_REQUEST"

	// ErrCodeVerificationFailed: the callback proof or payload did not verify.
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// ErrCodeAlreadyRevealed: raw fields were already revealed.
	ErrCodeAlreadyRevealed ErrorCode = "ALREADY_REVEALED"

	// ErrCodeAlreadyConsumed: the request already had a callback applied.
	ErrCodeAlreadyConsumed ErrorCode = "ALREADY_CONSUMED"

	// ErrCodeScoreAlreadyRevealed: the score was already revealed.
	ErrCodeScoreAlreadyRevealed ErrorCode = "SCORE_ALREADY_REVEALED"

	// ErrCodeScoreAlreadySet: a score ciphertext is already stored.
	ErrCodeScoreAlreadySet ErrorCode = "SCORE_ALREADY_SET"

	// ErrCodeRecordNotRevealed: raw fields must be revealed first.
	ErrCodeRecordNotRevealed ErrorCode = "RECORD_NOT_REVEALED"

	// ErrCodeScoreNotComputed: the score must be computed first.
	ErrCodeScoreNotComputed ErrorCode = "SCORE_NOT_COMPUTED"

	// ErrCodeRecordNotFound: no record with that id.
	ErrCodeRecordNotFound ErrorCode = "RECORD_NOT_FOUND"

	// ErrCodeUnauthorized: the capability check denied the call.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeInvalidArgument: an input was malformed (e.g. a handle that is
	// not a ciphertext under the configured scheme).
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request=%s)", e.RequestID)
	} else if e.RecordID != 0 {
		msg += fmt.Sprintf(" (record=%d)", e.RecordID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is (or wraps) a domain error with the given code.
func Is(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the domain error code carried by err, or "" if none.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Recoverable reports whether the caller can retry or treat the operation as
// already done. Unknown requests and failed verification are never recoverable.
func Recoverable(code ErrorCode) bool {
	switch code {
	case ErrCodeDuplicateOutstanding,
		ErrCodeAlreadyRevealed,
		ErrCodeAlreadyConsumed,
		ErrCodeScoreAlreadyRevealed,
		ErrCodeScoreAlreadySet:
		return true
	default:
		return false
	}
}

// NewDuplicateOutstanding reports a pending request blocking a new one.
func NewDuplicateOutstanding(id RecordID, kind RevealKind, pending RequestID) *Error {
	return &Error{
		Code:      ErrCodeDuplicateOutstanding,
		Message:   fmt.Sprintf("%s request already outstanding for record %d", kind, id),
		RecordID:  id,
		RequestID: pending,
	}
}

// NewUnknownRequest reports a request id that does not resolve.
func NewUnknownRequest(req RequestID) *Error {
	return &Error{
		Code:      ErrCodeUnknownRequest,
		Message:   "request id was never issued or is no longer valid",
		RequestID: req,
	}
}

// NewVerificationFailed reports a callback whose proof or payload was rejected.
func NewVerificationFailed(req RequestID, cause error) *Error {
	return &Error{
		Code:      ErrCodeVerificationFailed,
		Message:   "callback proof rejected",
		RequestID: req,
		Err:       cause,
	}
}

// NewAlreadyConsumed reports a replayed callback.
func NewAlreadyConsumed(req RequestID) *Error {
	return &Error{
		Code:      ErrCodeAlreadyConsumed,
		Message:   "request already consumed",
		RequestID: req,
	}
}

// NewInvalidArgument reports a malformed input.
func NewInvalidArgument(message string, cause error) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: message, Err: cause}
}

// NewRecordError builds a record-scoped domain error.
func NewRecordError(code ErrorCode, id RecordID, message string) *Error {
	return &Error{Code: code, Message: message, RecordID: id}
}

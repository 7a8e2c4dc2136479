package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode names a class of protocol failure.
type ErrorCode string

const (
	CodeHandshakeAuth       ErrorCode = "HANDSHAKE_AUTH_FAILURE"
	CodeDecryptionFailed    ErrorCode = "DECRYPTION_FAILED"
	CodeSkippedKeyLimit     ErrorCode = "SKIPPED_KEY_LIMIT_EXCEEDED"
	CodeReplayRejected      ErrorCode = "REPLAY_REJECTED"
	CodeSequenceRejected    ErrorCode = "SEQUENCE_REJECTED"
	CodeClockSkewRejected   ErrorCode = "CLOCK_SKEW_REJECTED"
	CodeTokenRejected       ErrorCode = "TOKEN_REJECTED"
	CodeStoreContention     ErrorCode = "STORE_CONTENTION"
	CodeNoSession           ErrorCode = "NO_SESSION"
	CodeIdentityConflict    ErrorCode = "IDENTITY_CONFLICT"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeFingerprintMismatch ErrorCode = "FINGERPRINT_MISMATCH"
)

// ProtocolError is a typed failure carrying a code, a safe message and an
// optional cause. errors.Is matches on Code.
type ProtocolError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// Is reports whether target is a ProtocolError with the same code.
func (e *ProtocolError) Is(target error) bool {
	var t *ProtocolError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// StatusCode maps the error to the HTTP status the relay answers with.
func (e *ProtocolError) StatusCode() int {
	switch e.Code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeHandshakeAuth, CodeTokenRejected:
		return http.StatusForbidden
	case CodeNotFound, CodeNoSession:
		return http.StatusNotFound
	case CodeReplayRejected, CodeSequenceRejected, CodeIdentityConflict:
		return http.StatusConflict
	case CodeClockSkewRejected:
		return http.StatusUnprocessableEntity
	case CodeStoreContention:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a ProtocolError.
func NewError(code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// WrapError builds a ProtocolError around err.
func WrapError(code ErrorCode, message string, err error) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrHandshakeAuth     = NewError(CodeHandshakeAuth, "handshake authentication failed")
	ErrDecryptionFailed  = NewError(CodeDecryptionFailed, "decryption failed")
	ErrSkippedKeyLimit   = WrapError(CodeSkippedKeyLimit, "too many skipped message keys", ErrDecryptionFailed)
	ErrReplayRejected    = NewError(CodeReplayRejected, "message id already seen")
	ErrSequenceRejected  = NewError(CodeSequenceRejected, "sequence number rejected")
	ErrClockSkewRejected = NewError(CodeClockSkewRejected, "timestamp outside accepted window")
	ErrTokenRejected     = NewError(CodeTokenRejected, "delivery token rejected")
	ErrStoreContention   = NewError(CodeStoreContention, "store contention, retry later")
	ErrNoSession         = NewError(CodeNoSession, "no session with partner")
	ErrIdentityConflict  = NewError(CodeIdentityConflict, "identity already registered with different keys")
	ErrNotFound          = NewError(CodeNotFound, "not found")
	ErrInvalidInput      = NewError(CodeInvalidInput, "invalid input")
	ErrFingerprint       = NewError(CodeFingerprintMismatch, "partner fingerprint does not match")
)

// CodeOf returns the code of the first ProtocolError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

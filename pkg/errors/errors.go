package errors

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller should react to them.
type Kind uint8

const (
	KindInternal Kind = iota
	// KindUnavailable failures may succeed when retried after the store is
	// (re)connected.
	KindUnavailable
	KindInvalid
	KindNotFound
	KindConflict
	KindDenied
)

var kindNames = [...]string{
	KindInternal:    "internal",
	KindUnavailable: "unavailable",
	KindInvalid:     "invalid",
	KindNotFound:    "not_found",
	KindConflict:    "conflict",
	KindDenied:      "denied",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a typed store error. Code identifies the failure, Kind classifies
// it and Err keeps the driver or library cause.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    Kind   `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches by code, so clones and wraps of a sentinel satisfy errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code string, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Err: err}
}

var (
	ErrNotInitialized      = New("NOT_INITIALIZED", KindUnavailable, "database is not initialized")
	ErrConnection          = New("CONNECTION_ERROR", KindUnavailable, "database connection failed")
	ErrFilesystem          = New("FILESYSTEM_ERROR", KindInternal, "cannot prepare database file")
	ErrMigration           = New("MIGRATION_ERROR", KindInternal, "schema migration failed")
	ErrNotFound            = New("NOT_FOUND", KindNotFound, "resource not found")
	ErrUniqueConstraint    = New("UNIQUE_CONSTRAINT", KindConflict, "unique constraint violated")
	ErrDuplicateMembership = New("DUPLICATE_MEMBERSHIP", KindConflict, "membership already exists")
	ErrNotMember           = New("NOT_MEMBER", KindNotFound, "membership does not exist")
	ErrHash                = New("HASH_ERROR", KindInternal, "failed to hash password")
	ErrInvalidHash         = New("INVALID_HASH", KindInternal, "stored password hash is malformed")
	ErrMismatch            = New("MISMATCH", KindDenied, "password does not match")
	ErrInvalidCredentials  = New("INVALID_CREDENTIALS", KindDenied, "invalid credentials")
	ErrValidation          = New("VALIDATION_ERROR", KindInvalid, "validation failed")
	ErrInternal            = New("INTERNAL_ERROR", KindInternal, "internal error")
	ErrCacheMiss           = New("CACHE_MISS", KindNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapAs(ErrInternal, err, "")
}

// KindOf classifies err. Plain errors are internal.
func KindOf(err error) Kind {
	if e := FromError(err); e != nil {
		return e.Kind
	}
	return KindInternal
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WrapAs wraps cause using the code and kind of a predefined error.
func WrapAs(base *Error, cause error, message string) *Error {
	if message == "" {
		message = base.Message
	}
	return Wrap(cause, base.Code, base.Kind, message)
}

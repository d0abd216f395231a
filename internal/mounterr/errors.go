// Package mounterr provides the structured error taxonomy used by the mount lifecycle.
//
// Errors are categorized by Kind (what class of failure) and Code (the machine-readable
// reason). Callers outside the core never parse messages: they switch on Kind or Code.
//
//	err := mounterr.New(mounterr.KindConflict, mounterr.CodeDuplicateName).
//		Op("claim").
//		Detail("name %q already used", name).
//		Build()
//
// All errors support errors.Is against the Kind and Code sentinels:
//
//	errors.Is(err, mounterr.ErrNotFound)
package mounterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes the error.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindProtection    Kind = "protection"
	KindPersistence   Kind = "persistence"
	KindSerialization Kind = "serialization"
	KindUnavailable   Kind = "unavailable"
)

// Code is a machine-readable failure reason.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation.
	CodeNameTooShort    Code = "NAME_TOO_SHORT"
	CodeNameTooLong     Code = "NAME_TOO_LONG"
	CodeNameBlacklisted Code = "NAME_BLACKLISTED"
	CodeNameInvalid     Code = "NAME_INVALID"
	CodeLimitTotal      Code = "LIMIT_TOTAL"
	CodeLimitKind       Code = "LIMIT_KIND"
	CodeUnsupportedKind Code = "UNSUPPORTED_KIND"
	CodeNotRideable     Code = "NOT_RIDEABLE"
	CodeBadReference    Code = "BAD_REFERENCE"

	// Not found.
	CodeNotFound       Code = "NOT_FOUND"
	CodeNotActive      Code = "NOT_ACTIVE"
	CodeObjectMissing  Code = "OBJECT_MISSING"
	CodeOwnerOffline   Code = "OWNER_OFFLINE"
	CodeNotRiding      Code = "NOT_RIDING"
	CodeNoSafeLocation Code = "NO_SAFE_LOCATION"

	// Conflict.
	CodeDuplicateName Code = "DUPLICATE_NAME"
	CodeAlreadyRiding Code = "ALREADY_RIDING"
	CodeAlreadyActive Code = "ALREADY_ACTIVE"
	CodeAlreadyOwned  Code = "ALREADY_OWNED"
	CodeBusy          Code = "BUSY"

	// Protection.
	CodeNotOwner Code = "NOT_OWNER"

	// Persistence / serialization.
	CodeStoreFailed Code = "STORE_FAILED"
	CodeCodecFailed Code = "CODEC_FAILED"

	// Unavailable.
	CodeShuttingDown Code = "SHUTTING_DOWN"
)

var knownCodes = map[Code]struct{}{
	CodeUnknown: {}, CodeNameTooShort: {}, CodeNameTooLong: {}, CodeNameBlacklisted: {},
	CodeNameInvalid: {}, CodeLimitTotal: {}, CodeLimitKind: {}, CodeUnsupportedKind: {},
	CodeNotRideable: {}, CodeBadReference: {}, CodeNotFound: {}, CodeNotActive: {},
	CodeObjectMissing: {}, CodeOwnerOffline: {}, CodeNotRiding: {}, CodeNoSafeLocation: {},
	CodeDuplicateName: {}, CodeAlreadyRiding: {}, CodeAlreadyActive: {}, CodeAlreadyOwned: {},
	CodeBusy: {}, CodeNotOwner: {}, CodeStoreFailed: {}, CodeCodecFailed: {}, CodeShuttingDown: {},
}

// IsKnownCode reports whether c is one of the codes above.
func IsKnownCode(c Code) bool {
	_, ok := knownCodes[c]
	return ok
}

// Error is the structured error type used throughout the lifecycle core.
type Error struct {
	Kind   Kind
	Code   Code
	Op     string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(string(e.Code))
		b.WriteString("]")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches sentinel errors. A sentinel with an empty Code matches any error of the
// same Kind; a sentinel with a Code matches that Code only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return true
}

// Kind sentinels.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrProtection    = &Error{Kind: KindProtection}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrSerialization = &Error{Kind: KindSerialization}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
)

// Builder constructs an Error.
type Builder struct {
	err Error
}

// New starts building an error of the given kind and code.
func New(kind Kind, code Code) *Builder {
	return &Builder{err: Error{Kind: kind, Code: code}}
}

func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

func (b *Builder) Detail(format string, args ...any) *Builder {
	if len(args) == 0 {
		b.err.Detail = format
	} else {
		b.err.Detail = fmt.Sprintf(format, args...)
	}
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Convenience constructors for the common cases.

func Validation(op string, code Code, format string, args ...any) *Error {
	return New(KindValidation, code).Op(op).Detail(format, args...).Build()
}

func NotFound(op string, code Code, format string, args ...any) *Error {
	return New(KindNotFound, code).Op(op).Detail(format, args...).Build()
}

func Conflict(op string, code Code, format string, args ...any) *Error {
	return New(KindConflict, code).Op(op).Detail(format, args...).Build()
}

func Protection(op string, format string, args ...any) *Error {
	return New(KindProtection, CodeNotOwner).Op(op).Detail(format, args...).Build()
}

func Persistence(op string, cause error) *Error {
	return New(KindPersistence, CodeStoreFailed).Op(op).Cause(cause).Build()
}

func Serialization(op string, cause error) *Error {
	return New(KindSerialization, CodeCodecFailed).Op(op).Cause(cause).Build()
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of the first *Error in err's chain. Non-nil errors outside the
// taxonomy report CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Terminal reports whether err must be surfaced without retry.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindProtection:
		return true
	}
	return false
}

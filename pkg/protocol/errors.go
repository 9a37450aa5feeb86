package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a catalog error carried across the bus.
//
// Errors originating on either side of the bus are translated to and from
// bus error names (see ToBusError and FromBusError), so a client observes the
// same Code the server produced.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the object path the error relates to (if applicable)
	Path string

	// Err is the underlying cause (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error or a bare ErrorCode by code, so
// errors.Is(err, ErrBackend) holds for any backend failure.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *Error:
		return e.Code == t.Code
	default:
		return false
	}
}

// ErrorCode represents the category of a catalog error.
//
// ErrorCode implements error itself so codes can be used directly as
// errors.Is targets.
type ErrorCode int

const (
	// ErrTransportUnavailable indicates the bus or the provider cannot be reached
	ErrTransportUnavailable ErrorCode = iota + 1

	// ErrProviderNotFound indicates no provider with the given name is on the bus
	ErrProviderNotFound

	// ErrInvalidPath indicates an identifier or path could not be translated
	ErrInvalidPath

	// ErrUnknownProperty indicates a name outside the property vocabulary
	ErrUnknownProperty

	// ErrBackend indicates the catalog source failed
	ErrBackend

	// ErrPartialFailure indicates some partitions of a request failed while
	// others succeeded
	ErrPartialFailure

	// ErrNotSupported indicates the operation is not available in this
	// protocol generation or on this object
	ErrNotSupported

	// ErrCancelled indicates the owning client was closed before completion
	ErrCancelled
)

var codeNames = map[ErrorCode]string{
	ErrTransportUnavailable: "TransportUnavailable",
	ErrProviderNotFound:     "ProviderNotFound",
	ErrInvalidPath:          "InvalidPath",
	ErrUnknownProperty:      "UnknownProperty",
	ErrBackend:              "BackendError",
	ErrPartialFailure:       "PartialFailure",
	ErrNotSupported:         "NotSupported",
	ErrCancelled:            "Cancelled",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error implements the error interface.
func (c ErrorCode) Error() string { return c.String() }

// ParseErrorCode maps a code name back to its ErrorCode.
func ParseErrorCode(name string) (ErrorCode, bool) {
	for code, n := range codeNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrBackend for foreign errors. A nil error has code 0.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c ErrorCode
	if errors.As(err, &c) {
		return c
	}
	return ErrBackend
}

// NewError builds an *Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidPathError reports a path that could not be decoded.
func InvalidPathError(path, reason string) *Error {
	return &Error{Code: ErrInvalidPath, Message: "invalid object path (" + reason + ")", Path: path}
}

// BackendError wraps a catalog source failure.
func BackendError(path string, err error) *Error {
	return &Error{Code: ErrBackend, Message: "backend error", Path: path, Err: err}
}

// PartialFailureError wraps the first partition error of a request that
// still produced values from other partitions.
func PartialFailureError(path string, first error) *Error {
	return &Error{Code: ErrPartialFailure, Message: "partial failure", Path: path, Err: first}
}

// NotSupportedError reports an operation the generation does not offer.
func NotSupportedError(op string, gen Generation) *Error {
	return &Error{Code: ErrNotSupported, Message: op + " is not supported by " + gen.String()}
}

// errorNameSuffix is appended to the generation bus prefix to build error names.
const errorNameSuffix = "Error."

// IsErrorName reports whether name is a catalog error name of any generation.
func IsErrorName(name string) bool {
	for _, gen := range Generations {
		if strings.HasPrefix(name, gen.ErrorPrefix()) {
			return true
		}
	}
	return false
}

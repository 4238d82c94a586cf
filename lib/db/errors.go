package db

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// RetCode classifies database errors.
type RetCode uint64

const (
	RetCNotFound        RetCode = iota + 1 // no such database
	RetCInvalidArgument                    // caller misuse (exists, empty key, bad options)
	RetCCorruption                         // CRC mismatch, malformed log, inconsistent sidecar
	RetCIOError                            // underlying file operation failed
)

func (c RetCode) String() string {
	switch c {
	case RetCNotFound:
		return "NotFound"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCCorruption:
		return "Corruption"
	case RetCIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Error carries a return code, a message and an optional cause.
type Error struct {
	Code RetCode
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bdkv: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("bdkv: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError creates an Error carrying an underlying cause.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the RetCode from an error chain; 0 if none.
func CodeOf(err error) RetCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

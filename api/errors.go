// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by pools, devices and the control surface.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the data plane.
var (
	ErrOutOfMemory      = errors.New("out of memory")
	ErrFull             = errors.New("not enough room")
	ErrInsufficient     = errors.New("not enough entries")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrNoSuchPort       = errors.New("no such port")
	ErrQueueSetupFailed = errors.New("queue setup failed")
	ErrTransmitTimeout  = errors.New("transmit timeout")
	ErrOversizedPacket  = errors.New("oversized packet")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrBusy             = errors.New("resource busy")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeOutOfMemory
	ErrCodeFull
	ErrCodeInsufficient
	ErrCodeDeviceNotFound
	ErrCodeNoSuchPort
	ErrCodeQueueSetupFailed
	ErrCodeTransmitTimeout
	ErrCodeOversizedPacket
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeBusy
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeOutOfMemory:      ErrOutOfMemory,
	ErrCodeFull:             ErrFull,
	ErrCodeInsufficient:     ErrInsufficient,
	ErrCodeDeviceNotFound:   ErrDeviceNotFound,
	ErrCodeNoSuchPort:       ErrNoSuchPort,
	ErrCodeQueueSetupFailed: ErrQueueSetupFailed,
	ErrCodeTransmitTimeout:  ErrTransmitTimeout,
	ErrCodeOversizedPacket:  ErrOversizedPacket,
	ErrCodeInvalidArgument:  ErrInvalidArgument,
	ErrCodeNotSupported:     ErrNotSupported,
	ErrCodeAlreadyExists:    ErrAlreadyExists,
	ErrCodeBusy:             ErrBusy,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel for the error code, so errors.Is works on it.
func (e *Error) Unwrap() error {
	return codeSentinels[e.Code]
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

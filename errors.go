// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package leia

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"
)

// Transport errors - potentially retryable
var (
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")
)

// Link errors. A failed resync means the device never reported ready and the
// connection has to be reopened.
var (
	ErrLinkNotReady = errors.New("LEIA link not ready")
)

// Protocol framing errors. ErrProtocolFraming is the category; each specific
// error wraps it so callers can test for either.
var (
	ErrProtocolFraming          = errors.New("protocol framing error")
	ErrNoStatusMarker           = fmt.Errorf("no status marker received: %w", ErrProtocolFraming)
	ErrInvalidStatusMarker      = fmt.Errorf("invalid status marker: %w", ErrProtocolFraming)
	ErrNoStatusCode             = fmt.Errorf("status code not received: %w", ErrProtocolFraming)
	ErrNoAck                    = fmt.Errorf("no response ack received: %w", ErrProtocolFraming)
	ErrTruncatedResponseLength  = fmt.Errorf("truncated response length: %w", ErrProtocolFraming)
	ErrTruncatedResponsePayload = fmt.Errorf("truncated response payload: %w", ErrProtocolFraming)
)

// Device and request errors
var (
	ErrDeviceError            = errors.New("device reported an error")
	ErrInvalidAPDU            = errors.New("invalid APDU")
	ErrUnexpectedResponseSize = errors.New("unexpected response size")
	ErrInvalidParameter       = errors.New("invalid parameter")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError describes a handshake step that did not see what it expected.
// Kind is one of the framing sentinels (or ErrLinkNotReady,
// ErrUnexpectedResponseSize); Err is the transport cause, if any.
type ProtocolError struct {
	Kind     error
	Err      error
	Command  string
	Stage    string
	Expected []byte
	Observed []byte
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Command, e.Stage, e.Kind)
	if e.Expected != nil {
		msg += fmt.Sprintf(" (expected %s, got %s)", formatHexBytes(e.Expected), formatHexBytes(e.Observed))
	} else if e.Observed != nil {
		msg += fmt.Sprintf(" (got %s)", formatHexBytes(e.Observed))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the error kind and the transport cause to errors.Is/As.
func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DeviceError is returned when the device answers with a non-zero status code.
// The link stays usable; the next operation resyncs as usual.
type DeviceError struct {
	Command string
	Code    byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: device error 0x%02X (%s)", e.Command, e.Code, e.Name())
}

// Name returns the symbolic name of the status code.
func (e *DeviceError) Name() string {
	return DeviceStatusName(e.Code)
}

// Is matches ErrDeviceError so callers can use errors.Is without errors.As.
func (*DeviceError) Is(target error) bool {
	return target == ErrDeviceError
}

// APDUError reports a malformed raw APDU handed to CreateAPDUFromBytes.
type APDUError struct {
	Reason string
	Input  []byte
}

func (e *APDUError) Error() string {
	return fmt.Sprintf("invalid APDU %s: %s", formatHexBytes(e.Input), e.Reason)
}

func (*APDUError) Unwrap() error {
	return ErrInvalidAPDU
}

// IsRetryable returns true if the caller may reissue the operation. The next
// operation's resync re-establishes the link, so framing errors and device
// errors both qualify; a link that never reported ready does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrLinkNotReady) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrDeviceError),
		errors.Is(err, ErrProtocolFraming),
		errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the connection has to be
// reopened before anything else can be sent.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrLinkNotReady) {
		return true
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when the USB serial
// adapter is unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportRead, cause), ErrorTypeTransient)
}

// NewTransportClosedError creates a closed-transport error (permanent)
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

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

// Package uart implements the LEIA byte-stream transport over a USB serial port.
package uart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-leia"
	"github.com/ZaparooProject/go-leia/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate is the baud rate of the LEIA firmware's USB CDC interface.
const DefaultBaudRate = 115200

// pollInterval bounds each underlying read so a Read can notice its deadline.
const pollInterval = 50 * time.Millisecond

// maxAvailableReads caps the non-blocking reads made by one ReadAvailable.
const maxAvailableReads = 64

// Transport implements the leia.Transport interface for UART communication.
type Transport struct {
	port     serial.Port
	portName string
	mu       syncutil.Mutex
	closed   bool
}

// Option configures the serial port opened by New.
type Option func(*serial.Mode)

// WithBaudRate overrides the default 115200 baud.
func WithBaudRate(baud int) Option {
	return func(m *serial.Mode) {
		m.BaudRate = baud
	}
}

// New opens portName at 115200 8N1.
func New(portName string, opts ...Option) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	for _, opt := range opts {
		opt(mode)
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, leia.NewTransportError("open", portName, err, leia.ErrorTypePermanent)
	}
	leia.Debugf("uart: opened %s at %d baud", portName, mode.BaudRate)
	return newTransport(port, portName), nil
}

func newTransport(port serial.Port, portName string) *Transport {
	return &Transport{port: port, portName: portName}
}

// PortName returns the path of the serial port.
func (t *Transport) PortName() string {
	return t.portName
}

// Write sends all of data.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return leia.NewTransportClosedError("write", t.portName)
	}

	for written := 0; written < len(data); {
		n, err := t.port.Write(data[written:])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return t.wrapError("write", err)
		}
		if n == 0 {
			return leia.NewTransportWriteError("write", t.portName)
		}
		written += n
	}
	return nil
}

// Read collects up to n bytes until timeout expires. A short read returns the
// bytes received together with a timeout error.
func (t *Transport) Read(n int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, leia.NewTransportClosedError("read", t.portName)
	}

	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, leia.NewTimeoutError("read", t.portName)
		}
		if err := t.port.SetReadTimeout(min(remaining, pollInterval)); err != nil {
			return out, t.wrapError("set read timeout", err)
		}
		k, err := t.port.Read(buf[:n-len(out)])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return out, t.wrapError("read", err)
		}
		out = append(out, buf[:k]...)
	}
	return out, nil
}

// ReadAvailable returns the bytes already buffered by the driver without waiting.
func (t *Transport) ReadAvailable() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, leia.NewTransportClosedError("read", t.portName)
	}

	if err := t.port.SetReadTimeout(0); err != nil {
		return nil, t.wrapError("set read timeout", err)
	}
	var out []byte
	buf := make([]byte, 256)
	for range maxAvailableReads {
		k, err := t.port.Read(buf)
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return out, t.wrapError("read", err)
		}
		if k == 0 {
			break
		}
		out = append(out, buf[:k]...)
	}
	return out, nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// wrapError classifies a port error: an unplugged adapter is permanent,
// anything else transient.
func (t *Transport) wrapError(op string, err error) error {
	var portErr *serial.PortError
	if leia.IsFatal(err) || (errors.As(err, &portErr) && portErr.Code() == serial.PortClosed) {
		return leia.NewTransportError(op, t.portName, err, leia.ErrorTypePermanent)
	}
	if op == "write" {
		return leia.NewTransportError(op, t.portName, fmt.Errorf("%w: %w", leia.ErrTransportWrite, err), leia.ErrorTypeTransient)
	}
	return leia.NewTransportReadError(op, t.portName, err)
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

var _ leia.Transport = (*Transport)(nil)

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

package testing

import (
	"errors"
	"io"
	"time"

	"github.com/ZaparooProject/go-leia/internal/syncutil"
)

// Simulator transport errors
var (
	ErrSimulatorTimeout = errors.New("simulator: read timeout")
	ErrSimulatorClosed  = errors.New("simulator: transport closed")
)

// SimulatorTransport wraps VirtualLEIA and implements the leia.Transport
// method set, so the wire-level simulator can drive the high-level Device API.
// The simulator answers synchronously: once nothing is pending, nothing more
// will arrive, and Read times out at once instead of waiting.
type SimulatorTransport struct {
	sim  *VirtualLEIA
	conn io.ReadWriter
	// TimeoutError builds the error returned with a short read; tests set it
	// to produce the leia timeout error. ErrSimulatorTimeout when nil.
	TimeoutError func() error
	mu           syncutil.Mutex
	closed       bool
}

// NewSimulatorTransport creates a new transport backed by VirtualLEIA
func NewSimulatorTransport(sim *VirtualLEIA) *SimulatorTransport {
	return &SimulatorTransport{sim: sim, conn: sim}
}

// NewJitterySimulatorTransport creates a transport whose reads are fragmented
// and delayed by a JitteryConnection in front of the simulator.
func NewJitterySimulatorTransport(sim *VirtualLEIA, config JitterConfig) *SimulatorTransport {
	return &SimulatorTransport{sim: sim, conn: NewJitteryConnection(sim, config)}
}

// Write sends data to the simulator.
func (t *SimulatorTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSimulatorClosed
	}
	_, err := t.conn.Write(data)
	return err //nolint:wrapcheck // simulator never fails writes
}

// Read collects up to n bytes, giving up when the simulator has nothing left
// or timeout expires.
func (t *SimulatorTransport) Read(n int, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSimulatorClosed
	}

	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		k, err := t.conn.Read(buf[:n-len(out)])
		if err != nil {
			return out, err //nolint:wrapcheck // simulator errors are already descriptive
		}
		out = append(out, buf[:k]...)
		if k == 0 && (!t.pending() || time.Now().After(deadline)) {
			return out, t.timeoutError()
		}
	}
	return out, nil
}

// ReadAvailable returns whatever a single read yields right now.
func (t *SimulatorTransport) ReadAvailable() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSimulatorClosed
	}
	buf := make([]byte, 1024)
	k, err := t.conn.Read(buf)
	return buf[:k], err //nolint:wrapcheck // simulator errors are already descriptive
}

// Close closes the transport
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Simulator returns the underlying VirtualLEIA for test setup
func (t *SimulatorTransport) Simulator() *VirtualLEIA {
	return t.sim
}

func (t *SimulatorTransport) pending() bool {
	if j, ok := t.conn.(*JitteryConnection); ok && j.Buffered() {
		return true
	}
	return t.sim.HasPendingResponse()
}

func (t *SimulatorTransport) timeoutError() error {
	if t.TimeoutError != nil {
		return t.TimeoutError()
	}
	return ErrSimulatorTimeout
}

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
	"time"

	"github.com/ZaparooProject/go-leia/internal/syncutil"
)

// Transport is the byte stream to a LEIA device. It is implemented by the
// UART backend and by test doubles.
type Transport interface {
	// Write sends all of data.
	Write(data []byte) error

	// Read returns up to n bytes, waiting at most timeout for them to arrive.
	// When fewer than n bytes arrive in time the bytes received so far are
	// returned together with a timeout TransportError.
	Read(n int, timeout time.Duration) ([]byte, error)

	// ReadAvailable returns whatever is already buffered without waiting.
	ReadAvailable() ([]byte, error)

	// Close closes the transport connection
	Close() error
}

// MockTransport replays scripted input chunks and records everything written.
// Each Read consumes chunks until n bytes are collected; an empty chunk is a
// gap that makes the pending Read time out. ReadAvailable consumes at most one
// chunk.
type MockTransport struct {
	writeErr error
	readErr  error
	chunks   [][]byte
	written  [][]byte
	reads    []int
	mu       syncutil.Mutex
	closed   bool
}

// NewMockTransport creates a mock transport that will deliver chunks in order.
func NewMockTransport(chunks ...[]byte) *MockTransport {
	m := &MockTransport{}
	m.QueueRead(chunks...)
	return m
}

// QueueRead appends chunks to the input script.
func (m *MockTransport) QueueRead(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks = append(m.chunks, append([]byte{}, c...))
	}
}

// QueueGap appends an empty chunk, which ends the next Read with a timeout.
func (m *MockTransport) QueueGap() {
	m.QueueRead([]byte{})
}

// SetWriteError makes every subsequent Write fail with err.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetReadError makes every subsequent Read fail with err.
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Write implements Transport.
func (m *MockTransport) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewTransportClosedError("write", "mock")
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte{}, data...))
	return nil
}

// Read implements Transport.
func (m *MockTransport) Read(n int, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, NewTransportClosedError("read", "mock")
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.reads = append(m.reads, n)

	out := make([]byte, 0, n)
	for len(out) < n {
		if len(m.chunks) == 0 || len(m.chunks[0]) == 0 {
			if len(m.chunks) > 0 {
				m.chunks = m.chunks[1:]
			}
			return out, NewTimeoutError("read", "mock")
		}
		take := min(n-len(out), len(m.chunks[0]))
		out = append(out, m.chunks[0][:take]...)
		m.chunks[0] = m.chunks[0][take:]
		if len(m.chunks[0]) == 0 {
			m.chunks = m.chunks[1:]
		}
	}
	return out, nil
}

// ReadAvailable implements Transport.
func (m *MockTransport) ReadAvailable() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, NewTransportClosedError("read", "mock")
	}
	if len(m.chunks) == 0 {
		return nil, nil
	}
	c := m.chunks[0]
	m.chunks = m.chunks[1:]
	return c, nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns a copy of every buffer passed to Write, in order.
func (m *MockTransport) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	for i, w := range m.written {
		out[i] = append([]byte{}, w...)
	}
	return out
}

// WrittenBytes returns everything written, concatenated.
func (m *MockTransport) WrittenBytes() []byte {
	var out []byte
	for _, w := range m.Written() {
		out = append(out, w...)
	}
	return out
}

// ReadSizes returns the n argument of every Read call, in order.
func (m *MockTransport) ReadSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int{}, m.reads...)
}

// Pending returns the number of scripted chunks not yet consumed.
func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// IsClosed reports whether Close has been called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

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

//nolint:paralleltest // Test file - parallel tests add complexity
package uart

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/ZaparooProject/go-leia"
	virt "github.com/ZaparooProject/go-leia/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// MockSerialPort wraps an io.ReadWriter (usually VirtualLEIA) to implement serial.Port
type MockSerialPort struct {
	backend interface {
		Read(p []byte) (int, error)
		Write(p []byte) (int, error)
	}
	readErr      error
	readTimeouts []time.Duration
	closed       bool
}

func NewMockSerialPort(sim *virt.VirtualLEIA) *MockSerialPort {
	return &MockSerialPort{backend: sim}
}

func NewJitteryMockSerialPort(sim *virt.VirtualLEIA, config virt.JitterConfig) *MockSerialPort {
	return &MockSerialPort{backend: virt.NewJitteryConnection(sim, config)}
}

func (*MockSerialPort) SetMode(_ *serial.Mode) error {
	return nil
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	if m.closed {
		return 0, &serial.PortError{}
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	return m.backend.Read(p)
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	if m.closed {
		return 0, &serial.PortError{}
	}
	return m.backend.Write(p)
}

func (*MockSerialPort) Drain() error {
	return nil
}

func (*MockSerialPort) ResetInputBuffer() error {
	return nil
}

func (*MockSerialPort) ResetOutputBuffer() error {
	return nil
}

func (*MockSerialPort) SetDTR(_ bool) error {
	return nil
}

func (*MockSerialPort) SetRTS(_ bool) error {
	return nil
}

func (*MockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *MockSerialPort) SetReadTimeout(t time.Duration) error {
	m.readTimeouts = append(m.readTimeouts, t)
	return nil
}

func (m *MockSerialPort) Close() error {
	m.closed = true
	return nil
}

func (*MockSerialPort) Break(_ time.Duration) error {
	return nil
}

var _ serial.Port = (*MockSerialPort)(nil)

func newTestDevice(t *testing.T, port *MockSerialPort) *leia.Device {
	t.Helper()
	device, err := leia.New(newTransport(port, "mock://test"),
		leia.WithTimeout(100*time.Millisecond),
		leia.WithResyncDelay(0),
	)
	require.NoError(t, err)
	return device
}

func TestUART_ReadAccumulatesUntilN(t *testing.T) {
	sim := virt.NewVirtualLEIA()
	sim.InjectStaleBytes([]byte{1, 2, 3, 4, 5})
	transport := newTransport(NewJitteryMockSerialPort(sim, virt.JitterConfig{MaxFragment: 1, Seed: 7}), "mock://test")

	data, err := transport.Read(4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestUART_ShortReadTimesOut(t *testing.T) {
	sim := virt.NewVirtualLEIA()
	sim.InjectStaleBytes([]byte{0xAA})
	transport := newTransport(NewMockSerialPort(sim), "mock://test")

	data, err := transport.Read(4, 20*time.Millisecond)
	assert.Equal(t, []byte{0xAA}, data)
	require.ErrorIs(t, err, leia.ErrTransportTimeout)
	assert.True(t, leia.IsRetryable(err))
}

func TestUART_ReadAvailableDoesNotWait(t *testing.T) {
	sim := virt.NewVirtualLEIA()
	port := NewMockSerialPort(sim)
	transport := newTransport(port, "mock://test")

	data, err := transport.ReadAvailable()
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, []time.Duration{0}, port.readTimeouts)

	sim.InjectStaleBytes([]byte("stale"))
	data, err = transport.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, []byte("stale"), data)
}

func TestUART_ClosedTransport(t *testing.T) {
	transport := newTransport(NewMockSerialPort(virt.NewVirtualLEIA()), "mock://test")
	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())

	err := transport.Write([]byte{' '})
	require.ErrorIs(t, err, leia.ErrTransportClosed)
	assert.True(t, leia.IsFatal(err))

	_, err = transport.Read(1, time.Millisecond)
	require.ErrorIs(t, err, leia.ErrTransportClosed)
}

func TestUART_DeviceGoneIsFatal(t *testing.T) {
	port := NewMockSerialPort(virt.NewVirtualLEIA())
	port.readErr = syscall.ENXIO
	transport := newTransport(port, "mock://test")

	_, err := transport.Read(1, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, leia.IsFatal(err))
	assert.False(t, leia.IsRetryable(err))
}

func TestUART_TransientReadError(t *testing.T) {
	port := NewMockSerialPort(virt.NewVirtualLEIA())
	port.readErr = errors.New("framing glitch")
	transport := newTransport(port, "mock://test")

	_, err := transport.Read(1, 10*time.Millisecond)
	require.ErrorIs(t, err, leia.ErrTransportRead)
	assert.True(t, leia.IsRetryable(err))
}

func TestUART_DeviceOperations(t *testing.T) {
	ctx := context.Background()
	sim := virt.NewVirtualLEIA()
	sim.SetAPDUHandler(virt.ReverseHandler)
	device := newTestDevice(t, NewMockSerialPort(sim))

	require.NoError(t, device.Init(ctx))
	require.NoError(t, device.Reset(ctx))

	inserted, err := device.IsCardInserted(ctx)
	require.NoError(t, err)
	assert.True(t, inserted)

	resp, err := device.SendRawAPDU(ctx, []byte{0x00, 0xB0, 0x00, 0x00, 0x03, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x02, 0x01, 0x90, 0x00}, resp.Normalized())
}

func TestUART_DeviceOperationsWithJitter(t *testing.T) {
	ctx := context.Background()
	sim := virt.NewVirtualLEIA()
	config := virt.DefaultJitterConfig()
	config.Seed = 42
	device := newTestDevice(t, NewJitteryMockSerialPort(sim, config))

	for range 5 {
		atr, err := device.GetATR(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(0x3B), atr.TS)
		assert.Equal(t, []byte{0x80, 0x31, 0x80, 0x65, 0xB0}, atr.HistoricalBytes())
	}
}

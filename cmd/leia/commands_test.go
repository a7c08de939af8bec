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

//nolint:paralleltest // tests swap the package-level device hooks
package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ZaparooProject/go-leia"
	"github.com/ZaparooProject/go-leia/detection"
	testutil "github.com/ZaparooProject/go-leia/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runApp runs the tool against sim and returns what it printed.
func runApp(t *testing.T, sim *testutil.VirtualLEIA, args ...string) (string, error) {
	t.Helper()
	orig := openDevice
	t.Cleanup(func() { openDevice = orig })
	openDevice = func(_ context.Context, cfg *Config, _ *zap.Logger) (*leia.Device, error) {
		opts, err := cfg.DeviceOptions()
		if err != nil {
			return nil, err
		}
		transport := testutil.NewSimulatorTransport(sim)
		transport.TimeoutError = func() error { return leia.NewTimeoutError("read", "sim") }
		return leia.New(transport, append(opts, leia.WithResyncDelay(0))...)
	}

	var stdout, stderr bytes.Buffer
	app := newApp(&stdout, &stderr)
	err := app.RunContext(context.Background(), append([]string{"leia"}, args...))
	return stdout.String(), err
}

func TestInsertedCommand(t *testing.T) {
	sim := testutil.NewVirtualLEIA()
	out, err := runApp(t, sim, "inserted")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	sim.SetCardInserted(false)
	out, err = runApp(t, sim, "inserted")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestATRCommand(t *testing.T) {
	sim := testutil.NewVirtualLEIA()

	out, err := runApp(t, sim, "atr")
	require.NoError(t, err)
	assert.Equal(t, "3B 65 00 00 00 80 31 80 65 B0\n", out)

	out, err = runApp(t, sim, "atr", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "F=372")
}

func TestAPDUCommand(t *testing.T) {
	sim := testutil.NewVirtualLEIA()
	sim.SetAPDUHandler(testutil.ReverseHandler)

	out, err := runApp(t, sim, "apdu", "00A40400", "02AABB")
	require.NoError(t, err)
	assert.Equal(t, "BBAA9000\n", out)

	log := sim.CommandLog()
	require.NotEmpty(t, log)
	assert.Equal(t, byte(testutil.CmdSendAPDU), log[len(log)-1].Cmd)
}

func TestAPDUCommand_BadInput(t *testing.T) {
	sim := testutil.NewVirtualLEIA()

	_, err := runApp(t, sim, "apdu")
	require.Error(t, err)

	_, err = runApp(t, sim, "apdu", "00A4ZZ")
	require.Error(t, err)

	_, err = runApp(t, sim, "apdu", "00A4040005AABB")
	require.ErrorIs(t, err, leia.ErrInvalidAPDU)
	assert.Empty(t, sim.CommandLog())
}

func TestResetCommand_NoCard(t *testing.T) {
	sim := testutil.NewVirtualLEIA()
	sim.SetCardInserted(false)

	_, err := runApp(t, sim, "reset")
	var devErr *leia.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, byte(testutil.StatusCardNotInserted), devErr.Code)
}

func TestConfigureCommand(t *testing.T) {
	sim := testutil.NewVirtualLEIA()

	out, err := runApp(t, sim, "configure", "--protocol", "1", "--pts=false")
	require.NoError(t, err)
	assert.Contains(t, out, "protocol=T=1")

	cfg := sim.Configuration()
	require.Len(t, cfg, leia.ConfigureRequestSize)
	assert.Equal(t, byte(2), cfg[0])
	assert.Equal(t, byte(0), cfg[12])
	assert.Equal(t, byte(1), cfg[13])
}

func TestTriggerSetAndGet(t *testing.T) {
	sim := testutil.NewVirtualLEIA()

	_, err := runApp(t, sim, "trigger", "set", "--preset", "simple_t0", "--delay", "7", "2")
	require.NoError(t, err)

	out, err := runApp(t, sim, "trigger", "get", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "delay=7")
	assert.Contains(t, out, "PRE_SEND_APDU_SIMPLE_T0 IRQ_PUTC")
}

func TestTriggerSet_Points(t *testing.T) {
	sim := testutil.NewVirtualLEIA()

	_, err := runApp(t, sim, "trigger", "set", "--point", "get_atr_pre", "--point", "2", "0")
	require.NoError(t, err)

	stored := sim.TriggerStrategy(0)
	require.Len(t, stored, testutil.TriggerStrategySize(testutil.DefaultTriggerDepth))
	assert.Equal(t, byte(2), stored[0])
	assert.Equal(t, []byte{1, 2}, stored[12:14])
}

func TestTriggerSet_Errors(t *testing.T) {
	sim := testutil.NewVirtualLEIA()

	_, err := runApp(t, sim, "trigger", "set", "--point", "IRQ_PUTC", "4")
	require.ErrorContains(t, err, "slot must be 0..3")

	_, err = runApp(t, sim, "trigger", "set", "--preset", "nope", "0")
	require.ErrorContains(t, err, "unknown trigger preset")

	_, err = runApp(t, sim, "trigger", "set", "--preset", "simple_t0", "--point", "IRQ_GETC", "0")
	require.Error(t, err)

	_, err = runApp(t, sim, "trigger", "set", "--point", "BOGUS", "0")
	require.ErrorContains(t, err, "unknown trigger point")

	assert.Empty(t, sim.CommandLog())
}

func TestPingCommand(t *testing.T) {
	sim := testutil.NewVirtualLEIA()
	out, err := runApp(t, sim, "ping")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
	assert.Equal(t, 1, sim.ResyncCount())
}

func TestDetectCommand(t *testing.T) {
	orig := detectDevices
	t.Cleanup(func() { detectDevices = orig })

	var gotMode detection.Mode
	detectDevices = func(_ context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
		gotMode = opts.Mode
		return []detection.DeviceInfo{{Transport: "uart", Path: "/dev/ttyACM0", Name: "LEIA"}}, nil
	}
	out, err := runApp(t, testutil.NewVirtualLEIA(), "detect", "--mode", "passive")
	require.NoError(t, err)
	assert.Equal(t, detection.Passive, gotMode)
	assert.Contains(t, out, "/dev/ttyACM0")

	detectDevices = func(context.Context, *detection.Options) ([]detection.DeviceInfo, error) {
		return nil, detection.ErrNoDevicesFound
	}
	out, err = runApp(t, testutil.NewVirtualLEIA(), "detect")
	require.NoError(t, err)
	assert.Equal(t, "no LEIA readers found\n", out)

	_, err = runApp(t, testutil.NewVirtualLEIA(), "detect", "--mode", "loud")
	require.Error(t, err)
}

func TestReportError_PrintsTrace(t *testing.T) {
	sim := testutil.NewVirtualLEIA()
	sim.ForceNextStatus(0x42)

	_, err := runApp(t, sim, "inserted")
	require.Error(t, err)

	var buf bytes.Buffer
	reportError(&buf, err)
	assert.True(t, strings.HasPrefix(buf.String(), "Error: "))
	assert.Contains(t, buf.String(), "Wire trace")

	buf.Reset()
	reportError(&buf, errors.New("plain"))
	assert.Equal(t, "Error: plain\n", buf.String())
}

func TestParseHexArg(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []byte
	}{
		{"00A40400", []byte{0x00, 0xA4, 0x04, 0x00}},
		{"0x00a4", []byte{0x00, 0xA4}},
		{"00 A4:04", []byte{0x00, 0xA4, 0x04}},
	}
	for _, tt := range tests {
		got, err := parseHexArg(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

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

//nolint:paralleltest // tests share the detector registry and cache
package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     int
}

func (m *MockDetector) Detect(context.Context, *Options) ([]DeviceInfo, error) {
	m.calls++
	return m.devices, m.err
}

func (m *MockDetector) Transport() string {
	return m.transport
}

// BlockingDetector never returns until release is closed.
type BlockingDetector struct {
	release chan struct{}
}

func (b *BlockingDetector) Detect(context.Context, *Options) ([]DeviceInfo, error) {
	<-b.release
	return nil, nil
}

func (*BlockingDetector) Transport() string {
	return "blocking"
}

func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	original := registry
	registry = nil
	for _, d := range detectors {
		RegisterDetector(d)
	}
	clearCache()
	t.Cleanup(func() {
		registry = original
		clearCache()
	})
}

func TestModeAndConfidenceStrings(t *testing.T) {
	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "safe", Safe.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())

	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "medium", Medium.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "unknown", Confidence(9).String())
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"passive", Passive, false},
		{"safe", Safe, false},
		{"", Safe, false},
		{"full", Full, false},
		{"aggressive", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeviceInfo_String(t *testing.T) {
	d := DeviceInfo{Transport: "uart", Path: "/dev/ttyACM0", Confidence: High}
	assert.Equal(t, "uart device at /dev/ttyACM0 (confidence: high)", d.String())
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, Safe, opts.Mode)
	assert.True(t, opts.EnableCache)
	assert.Positive(t, opts.Timeout)
	assert.Positive(t, opts.ProbeTimeout)
	assert.Equal(t, DefaultBlocklist(), opts.Blocklist)
}

func TestCache_GetSetAndExpiry(t *testing.T) {
	clearCache()
	defer clearCache()

	_, found := getCached("uart", time.Minute)
	assert.False(t, found)

	devices := []DeviceInfo{{Transport: "uart", Path: "/dev/ttyACM0", Confidence: High}}
	setCached("uart", devices)
	devices[0].Path = "mutated"

	cached, found := getCached("uart", time.Minute)
	require.True(t, found)
	assert.Equal(t, "/dev/ttyACM0", cached[0].Path)

	_, found = getCached("uart", -time.Second)
	assert.False(t, found)
}

func TestClearDetectionCacheForTransport(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached("uart", []DeviceInfo{{Transport: "uart"}})
	setCached("other", []DeviceInfo{{Transport: "other"}})

	ClearDetectionCacheForTransport("uart")
	_, found := getCached("uart", time.Minute)
	assert.False(t, found)
	_, found = getCached("other", time.Minute)
	assert.True(t, found)

	ClearDetectionCache()
	_, found = getCached("other", time.Minute)
	assert.False(t, found)
}

func TestDetectorsFor(t *testing.T) {
	withRegistry(t, &MockDetector{transport: "uart"}, &MockDetector{transport: "usbhid"})

	assert.Len(t, detectorsFor(nil), 2)
	assert.Len(t, detectorsFor([]string{"uart"}), 1)
	assert.Empty(t, detectorsFor([]string{"spi"}))
}

func TestDetectAll_NoDetectors(t *testing.T) {
	withRegistry(t)

	opts := DefaultOptions()
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDetectors)
}

func TestDetectAll_ReturnsDevicesDespiteFailures(t *testing.T) {
	withRegistry(t,
		&MockDetector{transport: "uart", devices: []DeviceInfo{{Transport: "uart", Path: "/dev/ttyACM0"}}},
		&MockDetector{transport: "broken", err: errors.New("enumeration failed")},
	)

	opts := DefaultOptions()
	opts.EnableCache = false
	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyACM0", devices[0].Path)
}

func TestDetectAll_ReportsErrorsWhenNothingFound(t *testing.T) {
	failure := errors.New("enumeration failed")
	withRegistry(t, &MockDetector{transport: "broken", err: failure})

	opts := DefaultOptions()
	opts.EnableCache = false
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, failure)
}

func TestDetectAll_NoDevices(t *testing.T) {
	withRegistry(t, &MockDetector{transport: "uart", err: ErrNoDevicesFound})

	opts := DefaultOptions()
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestDetectAll_Timeout(t *testing.T) {
	blocking := &BlockingDetector{release: make(chan struct{})}
	defer close(blocking.release)
	withRegistry(t, blocking)

	opts := DefaultOptions()
	opts.Timeout = 10 * time.Millisecond
	opts.EnableCache = false

	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestDetectAll_CachedResultsAreFiltered(t *testing.T) {
	mock := &MockDetector{transport: "uart", devices: []DeviceInfo{
		{Transport: "uart", Path: "/dev/ttyACM0", Metadata: map[string]string{"vidpid": "0483:5740"}},
		{Transport: "uart", Path: "/dev/ttyACM1", Metadata: map[string]string{"vidpid": "2B3E:ACE2"}},
	}}
	withRegistry(t, mock)

	opts := DefaultOptions()
	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	opts.IgnorePaths = []string{"/dev/ttyACM0"}
	devices, err = DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyACM1", devices[0].Path)
	assert.Equal(t, 1, mock.calls, "second run must come from the cache")
}

func TestIsBlocked(t *testing.T) {
	blocklist := []string{"2341:0043", " abcd:ef01 "}
	assert.True(t, IsBlocked("2341:0043", blocklist))
	assert.True(t, IsBlocked("ABCD:EF01", blocklist))
	assert.False(t, IsBlocked("0483:5740", blocklist))
	assert.False(t, IsBlocked("", blocklist))
}

func TestFormatVIDPID(t *testing.T) {
	assert.Equal(t, "2B3E:ACE2", FormatVIDPID("2b3e", "ace2"))
	assert.Empty(t, FormatVIDPID("", "ace2"))
}

func TestIsPathIgnored(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		ignore []string
		want   bool
	}{
		{"exact", "/dev/ttyACM0", []string{"/dev/ttyACM0"}, true},
		{"unclean", "/dev/ttyACM0", []string{"/dev/../dev/ttyACM0"}, true},
		{"case insensitive", "COM3", []string{"com3"}, true},
		{"other path", "/dev/ttyACM1", []string{"/dev/ttyACM0"}, false},
		{"empty entries", "/dev/ttyACM0", []string{""}, false},
		{"empty path", "", []string{"/dev/ttyACM0"}, false},
		{"no list", "/dev/ttyACM0", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPathIgnored(tc.path, tc.ignore))
		})
	}
}

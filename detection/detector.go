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

// Package detection finds LEIA readers among the serial ports of the host.
// Transport-specific detectors register themselves on import:
//
//	import _ "github.com/ZaparooProject/go-leia/detection/uart"
package detection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mode represents the level of invasiveness for device detection
type Mode int

const (
	// Passive mode only looks at USB descriptors
	Passive Mode = iota
	// Safe mode opens likely ports and checks for the ready marker
	Safe
	// Full mode probes every port, including ones with unknown descriptors
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps "passive", "safe" and "full" to their Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "passive":
		return Passive, nil
	case "", "safe":
		return Safe, nil
	case "full":
		return Full, nil
	default:
		return 0, fmt.Errorf("unknown detection mode %q", s)
	}
}

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence - a serial port nothing rules out
	Low Confidence = iota
	// Medium confidence - USB descriptors match a LEIA
	Medium
	// High confidence - the device answered the resync handshake
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected LEIA device
type DeviceInfo struct {
	// Additional metadata: "vidpid", "manufacturer", "product", "serial"
	Metadata map[string]string
	// Transport type, e.g. "uart"
	Transport string
	// Connection path (e.g., "/dev/ttyACM0", "COM3")
	Path string
	// Human-readable device name
	Name string
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// ProbeTimeout bounds the handshake with a single port
	ProbeTimeout time.Duration
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		Timeout:      5 * time.Second,
		ProbeTimeout: 1 * time.Second,
		Blocklist:    DefaultBlocklist(),
		EnableCache:  true,
		CacheTTL:     30 * time.Second,
	}
}

// Detector is implemented by each transport-specific detector
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no LEIA devices were detected
	ErrNoDevicesFound = errors.New("no LEIA devices found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNoDetectors indicates no detector is registered for the requested transports
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var registry []Detector

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

func detectorsFor(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}

	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every registered detector concurrently and returns all
// devices found. Devices are returned even when some detectors fail.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := detectorsFor(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- runDetector(ctx, d, opts)
		}()
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	switch {
	case len(devices) > 0:
		return devices, nil
	case len(errs) > 0:
		return nil, errors.Join(errs...)
	default:
		return nil, ErrNoDevicesFound
	}
}

func runDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, found := getCached(d.Transport(), opts.CacheTTL); found {
			// cached results skipped Detect, so filter them again
			return detectionResult{devices: FilterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(d.Transport(), devices)
		} else {
			clearCacheForTransport(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

// FilterDevices drops devices whose path is ignored or whose VID:PID is blocked.
func FilterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}

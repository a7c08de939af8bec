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

// Package uart detects LEIA readers on USB serial ports. Importing it
// registers the detector with the detection package.
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-leia"
	"github.com/ZaparooProject/go-leia/detection"
	"github.com/ZaparooProject/go-leia/transport/uart"
	"go.bug.st/serial/enumerator"
)

// knownLEIA lists the VID:PIDs LEIA boards enumerate with.
var knownLEIA = []string{
	"0483:5740", // STM32 virtual COM port (stock LEIA firmware)
	"2B3E:ACE2", // ChipWhisperer-hosted LEIA target
}

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// listPortsFn and probeDeviceFn are replaced in tests.
var (
	listPortsFn   = enumerator.GetDetailedPortsList
	probeDeviceFn = probeDevice
)

// Detect searches for LEIA devices on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPortsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		if d.skipPort(port, opts) {
			continue
		}
		if device, ok := d.processPort(ctx, port, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func (*detector) skipPort(port *enumerator.PortDetails, opts *detection.Options) bool {
	if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return true
	}
	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	return vidpid != "" && detection.IsBlocked(vidpid, opts.Blocklist)
}

// processPort decides confidence and, depending on the mode, probes the port.
// Safe mode only opens ports whose descriptors look like a LEIA; Full mode
// opens every USB serial port.
func (*detector) processPort(
	ctx context.Context, port *enumerator.PortDetails, opts *detection.Options,
) (detection.DeviceInfo, bool) {
	likely := isLikelyLEIA(port)
	device := createDeviceInfo(port, detection.Low)
	if likely {
		device.Confidence = detection.Medium
	}

	switch opts.Mode {
	case detection.Passive:
		return device, likely
	case detection.Safe:
		if !likely {
			return detection.DeviceInfo{}, false
		}
	case detection.Full:
		if !port.IsUSB && !likely {
			return detection.DeviceInfo{}, false
		}
	}

	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if !probeDeviceFn(ctx, port.Name, timeout) {
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	return device, true
}

func createDeviceInfo(port *enumerator.PortDetails, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Name,
		Name:       port.Product,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if device.Name == "" {
		device.Name = port.Name
	}
	if vidpid := detection.FormatVIDPID(port.VID, port.PID); vidpid != "" {
		device.Metadata["vidpid"] = vidpid
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// isLikelyLEIA checks the USB descriptors of a port.
func isLikelyLEIA(port *enumerator.PortDetails) bool {
	if !port.IsUSB {
		return false
	}
	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	for _, known := range knownLEIA {
		if vidpid == known {
			return true
		}
	}
	return strings.Contains(strings.ToLower(port.Product), "leia")
}

// probeDevice opens the port and checks for the ready marker. It makes a
// single attempt: a port that is not a LEIA should see as few bytes as possible.
func probeDevice(ctx context.Context, path string, timeout time.Duration) bool {
	transport, err := uart.New(path)
	if err != nil {
		leia.Debugf("detect: cannot open %s: %v", path, err)
		return false
	}
	defer func() { _ = transport.Close() }()

	device, err := leia.New(transport, leia.WithTimeout(timeout))
	if err != nil {
		return false
	}
	if err := device.Ping(ctx); err != nil {
		leia.Debugf("detect: %s did not answer the resync: %v", path, err)
		return false
	}
	return true
}

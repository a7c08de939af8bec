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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-leia/detection"
)

// APDUEncoding selects how SendAPDU serializes the command payload.
type APDUEncoding int

const (
	// APDUEncodingNormalized sends the unpadded ISO7816 form (the stock firmware).
	APDUEncodingNormalized APDUEncoding = iota
	// APDUEncodingStruct sends the CommandAPDU structure cut after the data.
	APDUEncodingStruct
)

func (e APDUEncoding) String() string {
	switch e {
	case APDUEncodingNormalized:
		return "normalized"
	case APDUEncodingStruct:
		return "struct"
	default:
		return fmt.Sprintf("APDUEncoding(%d)", int(e))
	}
}

// ParseAPDUEncoding maps "normalized" and "struct" to their encoding.
func ParseAPDUEncoding(s string) (APDUEncoding, error) {
	switch s {
	case "", "normalized":
		return APDUEncodingNormalized, nil
	case "struct":
		return APDUEncodingStruct, nil
	default:
		return 0, fmt.Errorf("%w: unknown APDU encoding %q", ErrInvalidParameter, s)
	}
}

// Defaults
const (
	DefaultTimeout         = 10 * time.Second
	DefaultResyncDelay     = 100 * time.Millisecond
	DefaultTraceSize       = 32
	DefaultMaxResponseSize = 4096
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// Timeout bounds every blocking read
	Timeout time.Duration
	// ResyncDelay is how long to wait for the ready marker after the resync byte
	ResyncDelay time.Duration
	// TriggerDepth is the number of points per trigger strategy in the firmware build
	TriggerDepth int
	// APDUEncoding selects the send_apdu payload format
	APDUEncoding APDUEncoding
	// TraceSize is the number of wire chunks kept for error reports
	TraceSize int
	// MaxResponseSize caps the declared response length accepted from the device
	MaxResponseSize int
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Timeout:         DefaultTimeout,
		ResyncDelay:     DefaultResyncDelay,
		TriggerDepth:    TriggerDepth,
		APDUEncoding:    APDUEncodingNormalized,
		TraceSize:       DefaultTraceSize,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// Option configures a Device
type Option func(*Device) error

// WithTimeout sets the timeout applied to every blocking read.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidParameter, timeout)
		}
		d.config.Timeout = timeout
		return nil
	}
}

// WithResyncDelay sets the pause between the resync byte and reading the ready marker.
func WithResyncDelay(delay time.Duration) Option {
	return func(d *Device) error {
		if delay < 0 {
			return fmt.Errorf("%w: resync delay must not be negative, got %v", ErrInvalidParameter, delay)
		}
		d.config.ResyncDelay = delay
		return nil
	}
}

// WithTriggerDepth sets the trigger strategy depth of the firmware build.
func WithTriggerDepth(depth int) Option {
	return func(d *Device) error {
		if err := validateDepth(depth); err != nil {
			return err
		}
		d.config.TriggerDepth = depth
		return nil
	}
}

// WithAPDUEncoding selects the send_apdu payload format.
func WithAPDUEncoding(enc APDUEncoding) Option {
	return func(d *Device) error {
		if enc != APDUEncodingNormalized && enc != APDUEncodingStruct {
			return fmt.Errorf("%w: unknown APDU encoding %d", ErrInvalidParameter, int(enc))
		}
		d.config.APDUEncoding = enc
		return nil
	}
}

// WithTraceSize sets how many wire chunks are kept for error reports.
func WithTraceSize(n int) Option {
	return func(d *Device) error {
		if n <= 0 {
			return fmt.Errorf("%w: trace size must be positive, got %d", ErrInvalidParameter, n)
		}
		d.config.TraceSize = n
		return nil
	}
}

// WithMaxResponseSize caps the response length the device may declare.
func WithMaxResponseSize(n int) Option {
	return func(d *Device) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response size must be positive, got %d", ErrInvalidParameter, n)
		}
		d.config.MaxResponseSize = n
		return nil
	}
}

// Device is a host-side client for a LEIA smart card reader.
//
// Thread Safety: Device is NOT thread-safe. The protocol allows a single
// outstanding request per link, and nothing here enforces that: all methods
// must be called from one goroutine or behind external synchronization, and
// the transport must not be used by anything else while an operation runs.
// An operation cannot be cancelled once it has started; to abort, close the
// transport and open a new one. The next operation's resync brings the
// device back to its ready state.
type Device struct {
	transport Transport
	config    *DeviceConfig
	trace     *TraceBuffer
	lastTrace []TraceEntry
	state     State
}

// New creates a new LEIA device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidParameter)
	}
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
		state:     StateIdle,
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}
	device.trace = NewTraceBuffer(device.config.TraceSize)

	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Config returns a copy of the active configuration.
func (d *Device) Config() DeviceConfig {
	return *d.config
}

// TriggerDepth returns the trigger strategy depth used for encoding and decoding.
func (d *Device) TriggerDepth() int {
	return d.config.TriggerDepth
}

// SetTimeout sets the timeout for blocking reads
func (d *Device) SetTimeout(timeout time.Duration) error {
	return WithTimeout(timeout)(d)
}

// State returns the handshake state. It is StateIdle between operations.
func (d *Device) State() State {
	return d.state
}

// LastTrace returns the wire chunks of the most recent operation.
func (d *Device) LastTrace() []TraceEntry {
	return append([]TraceEntry(nil), d.lastTrace...)
}

// Close closes the underlying transport
func (d *Device) Close() error {
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// DeviceDetector finds candidate devices for auto-detection
type DeviceDetector func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         DeviceDetector
	retry                  *RetryConfig
	deviceOptions          []Option
	autoDetect             bool
}

// WithAutoDetection connects to the first detected LEIA instead of a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of attempts at the first handshake
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.retry.MaxAttempts = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{retry: ConnectionRetryConfig()}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}
	return config, nil
}

// ConnectDevice opens a transport for path (or the first detected device when
// auto-detection is on or path is empty) and brings the link up with Init.
// Init is retried with backoff because a freshly opened USB CDC port often
// drops the first bytes; this is the only place the library retries.
//
//	device, err := leia.ConnectDevice(ctx, "/dev/ttyACM0", leia.WithTransportFactory(openUART))
func ConnectDevice(ctx context.Context, path string, opts ...ConnectOption) (*Device, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	transport, err := createTransport(ctx, path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	device, err := New(transport, config.deviceOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	attempt := 0
	err = RetryWithConfig(ctx, config.retry, func() error {
		attempt++
		Debugf("connect: init attempt %d", attempt)
		return device.Init(ctx)
	})
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to bring up link after %d attempts: %w", attempt, err)
	}
	return device, nil
}

func createTransport(ctx context.Context, path string, config *connectConfig) (Transport, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedTransport(ctx, config.transportDeviceFactory, config.deviceDetector)
	}
	if config.transportFactory == nil {
		return nil, errors.New("transport factory not provided")
	}
	transport, err := config.transportFactory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}
	return transport, nil
}

func createAutoDetectedTransport(
	ctx context.Context,
	factory TransportFromDeviceFactory,
	detector DeviceDetector,
) (Transport, error) {
	opts := detection.DefaultOptions()
	opts.Mode = detection.Safe

	if detector == nil {
		detector = detection.DetectAll
	}
	devices, err := detector(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	if factory == nil {
		return nil, errors.New("transport device factory not provided")
	}
	Debugf("connect: using detected device %s", devices[0])
	return factory(devices[0])
}

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
	"fmt"
	"math"
)

// ConfigureRequest layout
const (
	cfgOffsetETU      = 4
	cfgOffsetFreq     = 8
	cfgOffsetPTS      = 12
	cfgOffsetBaudrate = 13
	// ConfigureRequestSize is the size of the ConfigureRequest structure.
	ConfigureRequestSize = 16
)

// ConfigureRequest selects the protocol and timing the device uses with the
// card. Zero values mean "negotiate automatically"; Protocol holds N+1 for
// protocol T=N.
type ConfigureRequest struct {
	ETU               uint32
	Freq              uint32
	Protocol          uint8
	NegotiatePTS      uint8
	NegotiateBaudrate uint8
}

// ConfigureOption customizes a ConfigureRequest.
type ConfigureOption func(*ConfigureRequest) error

// WithProtocol forces protocol T=n instead of auto-negotiation.
func WithProtocol(n int) ConfigureOption {
	return func(r *ConfigureRequest) error {
		if n < 0 || n >= math.MaxUint8 {
			return fmt.Errorf("%w: protocol T=%d", ErrInvalidParameter, n)
		}
		r.Protocol = uint8(n + 1) //nolint:gosec // range checked above
		return nil
	}
}

// WithETU forces the elementary time unit.
func WithETU(etu uint32) ConfigureOption {
	return func(r *ConfigureRequest) error {
		r.ETU = etu
		return nil
	}
}

// WithFrequency forces the card clock frequency in Hz.
func WithFrequency(freq uint32) ConfigureOption {
	return func(r *ConfigureRequest) error {
		r.Freq = freq
		return nil
	}
}

// WithPTS enables or disables PTS negotiation.
func WithPTS(enabled bool) ConfigureOption {
	return func(r *ConfigureRequest) error {
		r.NegotiatePTS = boolByte(enabled)
		return nil
	}
}

// WithBaudrateNegotiation enables or disables baudrate negotiation.
func WithBaudrateNegotiation(enabled bool) ConfigureOption {
	return func(r *ConfigureRequest) error {
		r.NegotiateBaudrate = boolByte(enabled)
		return nil
	}
}

// NewConfigureRequest builds a request. Without options the device picks
// protocol, ETU and frequency itself and negotiates PTS and baudrate.
func NewConfigureRequest(opts ...ConfigureOption) (*ConfigureRequest, error) {
	r := &ConfigureRequest{NegotiatePTS: 1, NegotiateBaudrate: 1}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AutoProtocol reports whether the device negotiates the protocol itself.
func (r *ConfigureRequest) AutoProtocol() bool {
	return r.Protocol == 0
}

// ProtocolNumber returns N for protocol T=N, or -1 for auto-negotiation.
func (r *ConfigureRequest) ProtocolNumber() int {
	return int(r.Protocol) - 1
}

// MarshalBinary encodes the request structure.
func (r *ConfigureRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ConfigureRequestSize)
	buf[0] = r.Protocol
	fieldOrder.PutUint32(buf[cfgOffsetETU:], r.ETU)
	fieldOrder.PutUint32(buf[cfgOffsetFreq:], r.Freq)
	buf[cfgOffsetPTS] = r.NegotiatePTS
	buf[cfgOffsetBaudrate] = r.NegotiateBaudrate
	return buf, nil
}

// UnmarshalBinary decodes a structure image. Short input is zero-filled.
func (r *ConfigureRequest) UnmarshalBinary(b []byte) error {
	buf := fit(b, ConfigureRequestSize)
	r.Protocol = buf[0]
	r.ETU = fieldOrder.Uint32(buf[cfgOffsetETU:])
	r.Freq = fieldOrder.Uint32(buf[cfgOffsetFreq:])
	r.NegotiatePTS = buf[cfgOffsetPTS]
	r.NegotiateBaudrate = buf[cfgOffsetBaudrate]
	return nil
}

func (r ConfigureRequest) String() string {
	protocol := "auto"
	if !r.AutoProtocol() {
		protocol = fmt.Sprintf("T=%d", r.ProtocolNumber())
	}
	return fmt.Sprintf("ConfigureRequest(protocol=%s, etu=%d, freq=%d, pts=%d, baudrate=%d)",
		protocol, r.ETU, r.Freq, r.NegotiatePTS, r.NegotiateBaudrate)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

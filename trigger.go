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

// TriggerDepth is the number of trigger points the stock firmware stores per strategy.
const TriggerDepth = 10

// MaxTriggerStrategies is the number of strategy slots on the device.
const MaxTriggerStrategies = 4

// TriggerPoint identifies a protocol checkpoint at which the device raises
// its trigger line.
type TriggerPoint uint8

// Trigger points understood by the firmware.
const (
	TriggerGetATRPre                  TriggerPoint = 1
	TriggerGetATRPost                 TriggerPoint = 2
	TriggerPreSendAPDUFragmentedT0    TriggerPoint = 3
	TriggerPreSendAPDUSimpleT0        TriggerPoint = 4
	TriggerPreGetResponseFragmentedT0 TriggerPoint = 5
	TriggerPreGetResponseSimpleT0     TriggerPoint = 6
	TriggerIRQPutc                    TriggerPoint = 7
	TriggerIRQGetc                    TriggerPoint = 8
)

func (p TriggerPoint) String() string {
	switch p {
	case TriggerGetATRPre:
		return "GET_ATR_PRE"
	case TriggerGetATRPost:
		return "GET_ATR_POST"
	case TriggerPreSendAPDUFragmentedT0:
		return "PRE_SEND_APDU_FRAGMENTED_T0"
	case TriggerPreSendAPDUSimpleT0:
		return "PRE_SEND_APDU_SIMPLE_T0"
	case TriggerPreGetResponseFragmentedT0:
		return "PRE_GET_RESP_FRAGMENTED_T0"
	case TriggerPreGetResponseSimpleT0:
		return "PRE_GET_RESP_SIMPLE_T0"
	case TriggerIRQPutc:
		return "IRQ_PUTC"
	case TriggerIRQGetc:
		return "IRQ_GETC"
	default:
		return fmt.Sprintf("TriggerPoint(%d)", uint8(p))
	}
}

// TriggerAfterFirstByteSendSimpleAPDUT0 fires on the first byte put on the
// line while sending a simple T=0 APDU.
func TriggerAfterFirstByteSendSimpleAPDUT0() []TriggerPoint {
	return []TriggerPoint{TriggerPreSendAPDUSimpleT0, TriggerIRQPutc}
}

// TriggerAfterFirstByteSendFragmentedAPDUT0 fires on the first byte put on
// the line while sending a fragmented T=0 APDU.
func TriggerAfterFirstByteSendFragmentedAPDUT0() []TriggerPoint {
	return []TriggerPoint{TriggerPreSendAPDUFragmentedT0, TriggerIRQPutc}
}

// TriggerStrategy layout
const (
	strategyOffsetDelay      = 4
	strategyOffsetDelayCount = 8
	strategyOffsetPoints     = 12
	setStrategyOffset        = 4
)

// TriggerStrategySize returns the structure size for a strategy of the given depth.
func TriggerStrategySize(depth int) int {
	return align(strategyOffsetPoints+depth, 4)
}

// SetTriggerStrategySize returns the structure size of a SetTriggerStrategy of the given depth.
func SetTriggerStrategySize(depth int) int {
	return setStrategyOffset + TriggerStrategySize(depth)
}

func validateDepth(depth int) error {
	if depth <= 0 || depth > math.MaxUint8 {
		return fmt.Errorf("%w: trigger depth %d out of range 1..%d", ErrInvalidParameter, depth, math.MaxUint8)
	}
	return nil
}

// TriggerStrategy is an ordered list of trigger points plus a delay. The
// length of Points is the strategy depth; only the first Size entries are
// significant. DelayCount is filled in by the device.
type TriggerStrategy struct {
	Points     []TriggerPoint
	Delay      uint32
	DelayCount uint32
	Size       uint8
}

// NewTriggerStrategy builds a strategy of the given depth holding points.
func NewTriggerStrategy(depth int, points []TriggerPoint, delay uint32) (*TriggerStrategy, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	if len(points) > depth {
		return nil, fmt.Errorf("%w: %d trigger points exceed depth %d", ErrInvalidParameter, len(points), depth)
	}
	s := &TriggerStrategy{
		Points: make([]TriggerPoint, depth),
		Size:   uint8(len(points)), //nolint:gosec // bounded by depth
		Delay:  delay,
	}
	copy(s.Points, points)
	return s, nil
}

// DecodeTriggerStrategy decodes a strategy of the given depth. Short input is
// zero-filled.
func DecodeTriggerStrategy(depth int, b []byte) (*TriggerStrategy, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	s := &TriggerStrategy{Points: make([]TriggerPoint, depth)}
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}

// Depth returns the capacity of the strategy.
func (s *TriggerStrategy) Depth() int {
	return len(s.Points)
}

// Active returns the significant trigger points.
func (s *TriggerStrategy) Active() []TriggerPoint {
	return s.Points[:min(int(s.Size), len(s.Points))]
}

// MarshalBinary encodes the strategy structure.
func (s *TriggerStrategy) MarshalBinary() ([]byte, error) {
	if err := validateDepth(s.Depth()); err != nil {
		return nil, err
	}
	if int(s.Size) > s.Depth() {
		return nil, fmt.Errorf("%w: strategy size %d exceeds depth %d", ErrInvalidParameter, s.Size, s.Depth())
	}
	buf := make([]byte, TriggerStrategySize(s.Depth()))
	s.put(buf)
	return buf, nil
}

func (s *TriggerStrategy) put(buf []byte) {
	buf[0] = s.Size
	fieldOrder.PutUint32(buf[strategyOffsetDelay:], s.Delay)
	fieldOrder.PutUint32(buf[strategyOffsetDelayCount:], s.DelayCount)
	for i, p := range s.Points {
		buf[strategyOffsetPoints+i] = byte(p)
	}
}

// UnmarshalBinary decodes into a strategy whose depth is already set by the
// length of Points. Short input is zero-filled.
func (s *TriggerStrategy) UnmarshalBinary(b []byte) error {
	if err := validateDepth(s.Depth()); err != nil {
		return err
	}
	buf := fit(b, TriggerStrategySize(s.Depth()))
	s.Size = buf[0]
	s.Delay = fieldOrder.Uint32(buf[strategyOffsetDelay:])
	s.DelayCount = fieldOrder.Uint32(buf[strategyOffsetDelayCount:])
	for i := range s.Points {
		s.Points[i] = TriggerPoint(buf[strategyOffsetPoints+i])
	}
	return nil
}

func (s TriggerStrategy) String() string {
	return fmt.Sprintf("TriggerStrategy(delay=%d, delay_count=%d, points=%v)", s.Delay, s.DelayCount, s.Active())
}

// SetTriggerStrategy is the payload of the set-trigger-strategy command:
// a slot index followed by the strategy to store there.
type SetTriggerStrategy struct {
	Strategy TriggerStrategy
	Index    uint8
}

// NewSetTriggerStrategy builds the request storing points in slot index.
func NewSetTriggerStrategy(index uint8, depth int, points []TriggerPoint, delay uint32) (*SetTriggerStrategy, error) {
	strategy, err := NewTriggerStrategy(depth, points, delay)
	if err != nil {
		return nil, err
	}
	return &SetTriggerStrategy{Index: index, Strategy: *strategy}, nil
}

// DecodeSetTriggerStrategy decodes a request of the given depth. Short input
// is zero-filled.
func DecodeSetTriggerStrategy(depth int, b []byte) (*SetTriggerStrategy, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	s := &SetTriggerStrategy{Strategy: TriggerStrategy{Points: make([]TriggerPoint, depth)}}
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalBinary encodes the request structure.
func (s *SetTriggerStrategy) MarshalBinary() ([]byte, error) {
	strategy, err := s.Strategy.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, setStrategyOffset+len(strategy))
	buf[0] = s.Index
	copy(buf[setStrategyOffset:], strategy)
	return buf, nil
}

// UnmarshalBinary decodes into a request whose strategy depth is already set.
func (s *SetTriggerStrategy) UnmarshalBinary(b []byte) error {
	depth := s.Strategy.Depth()
	if err := validateDepth(depth); err != nil {
		return err
	}
	buf := fit(b, SetTriggerStrategySize(depth))
	s.Index = buf[0]
	return s.Strategy.UnmarshalBinary(buf[setStrategyOffset:])
}

func (s SetTriggerStrategy) String() string {
	return fmt.Sprintf("SetTriggerStrategy(index=%d, strategy=%s)", s.Index, s.Strategy)
}

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

import "fmt"

// ATR limits
const (
	// ATRRounds is the number of interface byte rounds the device records.
	ATRRounds = 4
	// ATRMaxHistoricalBytes is the capacity of the historical bytes field.
	ATRMaxHistoricalBytes = 16
)

// ATR layout
const (
	atrOffsetTA         = 2
	atrOffsetTB         = 6
	atrOffsetTC         = 10
	atrOffsetTD         = 14
	atrOffsetHistorical = 18
	atrOffsetMask       = 34
	atrOffsetHistCount  = 38
	atrOffsetTCK        = 39
	atrOffsetTCKPresent = 40
	atrOffsetDi         = 44
	atrOffsetFi         = 48
	atrOffsetFMax       = 52
	atrOffsetProtocol   = 56
	atrOffsetIFSC       = 57
	// ATRSize is the size of the ATR descriptor structure.
	ATRSize = 60
)

// InterfaceByte selects one of the TA/TB/TC/TD interface bytes of a round.
// The values are the bits the device sets in each InterfaceMask entry.
type InterfaceByte uint8

// Interface byte presence bits.
const (
	InterfaceTA InterfaceByte = 1 << iota
	InterfaceTB
	InterfaceTC
	InterfaceTD
)

// ATR is the Answer To Reset as parsed by the device, together with the
// timing parameters it settled on.
type ATR struct {
	TA                  [ATRRounds]byte
	TB                  [ATRRounds]byte
	TC                  [ATRRounds]byte
	TD                  [ATRRounds]byte
	Historical          [ATRMaxHistoricalBytes]byte
	InterfaceMask       [ATRRounds]byte
	BitRateAdjustment   uint32 // D
	ClockRateConversion uint32 // F
	MaxFrequency        uint32
	TS                  byte
	T0                  byte
	HistoricalCount     uint8
	TCK                 byte
	TCKPresent          uint8
	Protocol            uint8
	IFSC                uint8
}

// Present reports whether the interface byte b of round r was sent by the card.
func (a *ATR) Present(r int, b InterfaceByte) bool {
	if r < 0 || r >= ATRRounds {
		return false
	}
	return a.InterfaceMask[r]&byte(b) != 0
}

// InterfaceBytes returns the interface bytes present in round r, in TA TB TC TD order.
func (a *ATR) InterfaceBytes(r int) []byte {
	var out []byte
	if r < 0 || r >= ATRRounds {
		return out
	}
	for _, ib := range []struct {
		v   byte
		bit InterfaceByte
	}{
		{a.TA[r], InterfaceTA},
		{a.TB[r], InterfaceTB},
		{a.TC[r], InterfaceTC},
		{a.TD[r], InterfaceTD},
	} {
		if a.Present(r, ib.bit) {
			out = append(out, ib.v)
		}
	}
	return out
}

// HistoricalBytes returns the significant historical bytes.
func (a *ATR) HistoricalBytes() []byte {
	return a.Historical[:min(int(a.HistoricalCount), ATRMaxHistoricalBytes)]
}

// MarshalBinary encodes the descriptor structure.
func (a *ATR) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ATRSize)
	buf[0] = a.TS
	buf[1] = a.T0
	copy(buf[atrOffsetTA:], a.TA[:])
	copy(buf[atrOffsetTB:], a.TB[:])
	copy(buf[atrOffsetTC:], a.TC[:])
	copy(buf[atrOffsetTD:], a.TD[:])
	copy(buf[atrOffsetHistorical:], a.Historical[:])
	copy(buf[atrOffsetMask:], a.InterfaceMask[:])
	buf[atrOffsetHistCount] = a.HistoricalCount
	buf[atrOffsetTCK] = a.TCK
	buf[atrOffsetTCKPresent] = a.TCKPresent
	fieldOrder.PutUint32(buf[atrOffsetDi:], a.BitRateAdjustment)
	fieldOrder.PutUint32(buf[atrOffsetFi:], a.ClockRateConversion)
	fieldOrder.PutUint32(buf[atrOffsetFMax:], a.MaxFrequency)
	buf[atrOffsetProtocol] = a.Protocol
	buf[atrOffsetIFSC] = a.IFSC
	return buf, nil
}

// UnmarshalBinary decodes a structure image. Short input is zero-filled.
func (a *ATR) UnmarshalBinary(b []byte) error {
	buf := fit(b, ATRSize)
	a.TS = buf[0]
	a.T0 = buf[1]
	copy(a.TA[:], buf[atrOffsetTA:])
	copy(a.TB[:], buf[atrOffsetTB:])
	copy(a.TC[:], buf[atrOffsetTC:])
	copy(a.TD[:], buf[atrOffsetTD:])
	copy(a.Historical[:], buf[atrOffsetHistorical:])
	copy(a.InterfaceMask[:], buf[atrOffsetMask:])
	a.HistoricalCount = buf[atrOffsetHistCount]
	a.TCK = buf[atrOffsetTCK]
	a.TCKPresent = buf[atrOffsetTCKPresent]
	a.BitRateAdjustment = fieldOrder.Uint32(buf[atrOffsetDi:])
	a.ClockRateConversion = fieldOrder.Uint32(buf[atrOffsetFi:])
	a.MaxFrequency = fieldOrder.Uint32(buf[atrOffsetFMax:])
	a.Protocol = buf[atrOffsetProtocol]
	a.IFSC = buf[atrOffsetIFSC]
	return nil
}

// Normalized returns TS T0 TA1 TB1 TC1 followed by the historical bytes.
// The first round's interface bytes are always emitted, whatever the
// presence mask says; use InterfaceBytes for the mask-aware view.
func (a *ATR) Normalized() []byte {
	out := []byte{a.TS, a.T0, a.TA[0], a.TB[0], a.TC[0]}
	return append(out, a.HistoricalBytes()...)
}

func (a ATR) String() string {
	return formatHexBytes(a.Normalized())
}

// Describe renders the negotiated parameters for humans.
func (a *ATR) Describe() string {
	return fmt.Sprintf("ATR %s (T=%d, F=%d, D=%d, fmax=%d, IFSC=%d)",
		formatHexBytes(a.Normalized()), a.Protocol, a.ClockRateConversion,
		a.BitRateAdjustment, a.MaxFrequency, a.IFSC)
}

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

package testing

import "encoding/binary"

// ATRFields holds the parts of an ATR descriptor tests usually care about.
type ATRFields struct {
	Historical []byte
	TA         [4]byte
	TB         [4]byte
	TC         [4]byte
	TD         [4]byte
	Mask       [4]byte
	D          uint32
	F          uint32
	FMax       uint32
	TS         byte
	T0         byte
	TCK        byte
	Protocol   byte
	IFSC       byte
	TCKPresent bool
}

// DefaultATR describes a T=0 card with TB1 and TC1 present. Its normalized
// form is 3B 65 00 00 00 80 31 80 65 B0.
func DefaultATR() ATRFields {
	return ATRFields{
		TS:         0x3B,
		T0:         0x65,
		Mask:       [4]byte{0x06},
		Historical: []byte{0x80, 0x31, 0x80, 0x65, 0xB0},
		D:          1,
		F:          372,
		FMax:       5000000,
		Protocol:   0,
		IFSC:       32,
	}
}

// BuildATR lays out a 60 byte ATR descriptor image.
func BuildATR(f ATRFields) []byte {
	buf := make([]byte, 60)
	buf[0] = f.TS
	buf[1] = f.T0
	copy(buf[2:], f.TA[:])
	copy(buf[6:], f.TB[:])
	copy(buf[10:], f.TC[:])
	copy(buf[14:], f.TD[:])
	copy(buf[18:34], f.Historical)
	copy(buf[34:], f.Mask[:])
	buf[38] = byte(len(f.Historical))
	buf[39] = f.TCK
	if f.TCKPresent {
		buf[40] = 1
	}
	binary.LittleEndian.PutUint32(buf[44:], f.D)
	binary.LittleEndian.PutUint32(buf[48:], f.F)
	binary.LittleEndian.PutUint32(buf[52:], f.FMax)
	buf[56] = f.Protocol
	buf[57] = f.IFSC
	return buf
}

// BuildResponseAPDU lays out a full 520 byte ResponseAPDU image.
func BuildResponseAPDU(data []byte, sw1, sw2 byte) []byte {
	buf := make([]byte, 520)
	n := copy(buf[6:], data)
	binary.LittleEndian.PutUint32(buf, uint32(n)) //nolint:gosec // bounded by the buffer
	buf[4] = sw1
	buf[5] = sw2
	return buf
}

// TriggerStrategySize is the strategy image size for a firmware build of the given depth.
func TriggerStrategySize(depth int) int {
	return (12 + depth + 3) / 4 * 4
}

// BuildTriggerStrategy lays out a strategy image of the given depth.
func BuildTriggerStrategy(depth int, points []byte, delay, delayCount uint32) []byte {
	buf := make([]byte, TriggerStrategySize(depth))
	buf[0] = byte(len(points))
	binary.LittleEndian.PutUint32(buf[4:], delay)
	binary.LittleEndian.PutUint32(buf[8:], delayCount)
	copy(buf[12:12+depth], points)
	return buf
}

// ReverseHandler answers with the command data reversed and 90 00, which
// makes it easy to tell request and response apart in tests.
func ReverseHandler(cmd SimAPDU) (data []byte, sw1, sw2 byte) {
	out := make([]byte, len(cmd.Data))
	for i, b := range cmd.Data {
		out[len(out)-1-i] = b
	}
	return out, 0x90, 0x00
}

// StatusWordHandler answers every command with sw1 sw2 and no data.
func StatusWordHandler(sw1, sw2 byte) APDUHandler {
	return func(SimAPDU) ([]byte, byte, byte) {
		return nil, sw1, sw2
	}
}

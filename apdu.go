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
	"strings"
)

// APDU data capacities of the device buffers.
const (
	CommandAPDUDataCapacity  = 512
	ResponseAPDUDataCapacity = 514
)

// NormalizedMaxLc is the largest Lc the one byte Lc field of the normalized
// encoding can carry. Longer commands need APDUEncodingStruct.
const NormalizedMaxLc = 0xFF

// CommandAPDU layout
const (
	apduHeaderSize      = 4
	cmdAPDUOffsetLc     = 4
	cmdAPDUOffsetLe     = 8
	cmdAPDUOffsetSendLe = 12
	cmdAPDUOffsetData   = 13
	// CommandAPDUSize is the size of the full CommandAPDU structure.
	CommandAPDUSize = 528
)

// ResponseAPDU layout
const (
	rspAPDUOffsetSW1  = 4
	rspAPDUOffsetSW2  = 5
	rspAPDUOffsetData = 6
	// ResponseAPDUSize is the size of the full ResponseAPDU structure.
	ResponseAPDUSize = 520
)

// CommandAPDU is a command APDU as the device stores it. Only the first Lc
// bytes of Data are significant; SendLe is non-zero when an Le field goes on
// the wire.
type CommandAPDU struct {
	Data   [CommandAPDUDataCapacity]byte
	Le     uint32
	Lc     uint16
	CLA    byte
	INS    byte
	P1     byte
	P2     byte
	SendLe uint8
}

// NewCommandAPDU builds a command APDU from its header, data and expected
// response length.
func NewCommandAPDU(cla, ins, p1, p2 byte, data []byte, le uint32, sendLe bool) (*CommandAPDU, error) {
	if len(data) > CommandAPDUDataCapacity {
		return nil, &APDUError{
			Input:  data,
			Reason: fmt.Sprintf("data length %d exceeds capacity %d", len(data), CommandAPDUDataCapacity),
		}
	}
	apdu := &CommandAPDU{
		CLA: cla, INS: ins, P1: p1, P2: p2,
		Lc: uint16(len(data)), //nolint:gosec // bounded by capacity above
		Le: le,
	}
	if sendLe {
		apdu.SendLe = 1
	}
	copy(apdu.Data[:], data)
	return apdu, nil
}

// CreateAPDUFromBytes builds a CommandAPDU from a raw ISO7816 short APDU:
// CLA INS P1 P2 [Lc data...] [Le]. A five byte APDU carries Le only.
// Whenever Le is present, SendLe is set so the device forwards it to the card.
func CreateAPDUFromBytes(raw []byte) (*CommandAPDU, error) {
	if len(raw) < apduHeaderSize {
		return nil, &APDUError{Input: raw, Reason: "shorter than the 4 byte header"}
	}

	apdu := &CommandAPDU{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	switch {
	case len(raw) == apduHeaderSize:
		return apdu, nil
	case len(raw) == apduHeaderSize+1:
		apdu.Le = uint32(raw[4])
		apdu.SendLe = 1
		return apdu, nil
	}

	lc := int(raw[4])
	if lc == 0 {
		return nil, &APDUError{Input: raw, Reason: "bytes follow a zero Lc"}
	}
	body := raw[5:]
	switch {
	case len(body) < lc:
		return nil, &APDUError{
			Input:  raw,
			Reason: fmt.Sprintf("Lc is %d but only %d data bytes follow", lc, len(body)),
		}
	case len(body) > lc+1:
		return nil, &APDUError{
			Input:  raw,
			Reason: fmt.Sprintf("%d unexpected trailing bytes", len(body)-lc-1),
		}
	}

	apdu.Lc = uint16(lc) //nolint:gosec // single byte
	copy(apdu.Data[:], body[:lc])
	if len(body) == lc+1 {
		apdu.Le = uint32(body[lc])
		apdu.SendLe = 1
	}
	return apdu, nil
}

// Validate checks the Lc invariant.
func (c *CommandAPDU) Validate() error {
	if int(c.Lc) > CommandAPDUDataCapacity {
		return &APDUError{
			Input:  c.header(),
			Reason: fmt.Sprintf("Lc %d exceeds capacity %d", c.Lc, CommandAPDUDataCapacity),
		}
	}
	return nil
}

// Payload returns the significant data bytes.
func (c *CommandAPDU) Payload() []byte {
	return c.Data[:min(int(c.Lc), CommandAPDUDataCapacity)]
}

func (c *CommandAPDU) header() []byte {
	return []byte{c.CLA, c.INS, c.P1, c.P2}
}

// MarshalBinary encodes the full fixed-size structure.
func (c *CommandAPDU) MarshalBinary() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c.image(), nil
}

func (c *CommandAPDU) image() []byte {
	buf := make([]byte, CommandAPDUSize)
	copy(buf, c.header())
	fieldOrder.PutUint16(buf[cmdAPDUOffsetLc:], c.Lc)
	fieldOrder.PutUint32(buf[cmdAPDUOffsetLe:], c.Le)
	buf[cmdAPDUOffsetSendLe] = c.SendLe
	copy(buf[cmdAPDUOffsetData:], c.Data[:])
	return buf
}

// UnmarshalBinary decodes a structure image. Short input is zero-filled.
func (c *CommandAPDU) UnmarshalBinary(b []byte) error {
	buf := fit(b, CommandAPDUSize)
	c.CLA, c.INS, c.P1, c.P2 = buf[0], buf[1], buf[2], buf[3]
	c.Lc = fieldOrder.Uint16(buf[cmdAPDUOffsetLc:])
	c.Le = fieldOrder.Uint32(buf[cmdAPDUOffsetLe:])
	c.SendLe = buf[cmdAPDUOffsetSendLe]
	copy(c.Data[:], buf[cmdAPDUOffsetData:])
	return nil
}

// Pack returns the structure image cut right after the significant data,
// which is what firmware reading the raw structure expects.
func (c *CommandAPDU) Pack() []byte {
	return c.image()[:cmdAPDUOffsetData+len(c.Payload())]
}

// Normalized returns the APDU without padding:
//
//	case 1 (no data, no Le): header + Lc(1)
//	case 2 (no data, Le):    header + Le(4)
//	case 3/4 (data):         header + Lc(1) + data [+ Le(4)]
//
// Lc must not exceed NormalizedMaxLc; SendAPDU rejects such commands.
func (c *CommandAPDU) Normalized() []byte {
	out := c.header()
	data := c.Payload()
	if len(data) > 0 {
		out = append(out, byte(c.Lc))
		out = append(out, data...)
	}
	if c.SendLe != 0 {
		out = fieldOrder.AppendUint32(out, c.Le)
	}
	if len(data) == 0 && c.SendLe == 0 {
		out = append(out, byte(c.Lc))
	}
	return out
}

func (c CommandAPDU) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "CommandAPDU(cla=0x%02x, ins=0x%02x, p1=0x%02x, p2=0x%02x, lc=%d, le=%d, send_le=%d",
		c.CLA, c.INS, c.P1, c.P2, c.Lc, c.Le, c.SendLe)
	if c.Lc != 0 {
		_, _ = fmt.Fprintf(&sb, ", data=%s", formatHexBytes(c.Payload()))
	}
	sb.WriteString(")")
	return sb.String()
}

// ResponseAPDU is the card's answer as relayed by the device. Le is the
// number of significant bytes in Data.
type ResponseAPDU struct {
	Data [ResponseAPDUDataCapacity]byte
	Le   uint32
	SW1  byte
	SW2  byte
}

// Payload returns the significant data bytes.
func (r *ResponseAPDU) Payload() []byte {
	return r.Data[:min(int(r.Le), ResponseAPDUDataCapacity)]
}

// StatusWord returns SW1SW2 as a single value, e.g. 0x9000.
func (r *ResponseAPDU) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// MarshalBinary encodes the full fixed-size structure.
func (r *ResponseAPDU) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResponseAPDUSize)
	fieldOrder.PutUint32(buf, r.Le)
	buf[rspAPDUOffsetSW1] = r.SW1
	buf[rspAPDUOffsetSW2] = r.SW2
	copy(buf[rspAPDUOffsetData:], r.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a structure image. Short input is zero-filled.
func (r *ResponseAPDU) UnmarshalBinary(b []byte) error {
	buf := fit(b, ResponseAPDUSize)
	r.Le = fieldOrder.Uint32(buf)
	r.SW1 = buf[rspAPDUOffsetSW1]
	r.SW2 = buf[rspAPDUOffsetSW2]
	copy(r.Data[:], buf[rspAPDUOffsetData:])
	return nil
}

// Normalized returns the response the way the card sent it: data then SW1 SW2.
func (r *ResponseAPDU) Normalized() []byte {
	out := append([]byte(nil), r.Payload()...)
	return append(out, r.SW1, r.SW2)
}

func (r ResponseAPDU) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "ResponseAPDU(sw1=0x%02x, sw2=0x%02x, le=%d", r.SW1, r.SW2, r.Le)
	if r.Le != 0 {
		_, _ = fmt.Fprintf(&sb, ", data=%s", formatHexBytes(r.Payload()))
	}
	sb.WriteString(")")
	return sb.String()
}

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

// Package testing provides test utilities including a wire-level LEIA simulator.
//
// The VirtualLEIA type implements io.ReadWriter and answers the host protocol
// the way the reader firmware does:
//
//	host:   ' '                           device: 'W'
//	host:   cmd len(u32 BE) payload       device: 'S' status ['R' [len(u32 BE) response]]
//
// It does not import the leia package so that package leia tests can use it.
package testing

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/ZaparooProject/go-leia/internal/syncutil"
)

// Protocol bytes
const (
	ResyncByte   byte = ' '
	ReadyMarker  byte = 'W'
	StatusMarker byte = 'S'
	AckMarker    byte = 'R'
)

// Command bytes
const (
	CmdReset              byte = 'r'
	CmdConfigure          byte = 'c'
	CmdGetTriggerStrategy byte = 'o'
	CmdSetTriggerStrategy byte = 'O'
	CmdGetATR             byte = 't'
	CmdIsCardInserted     byte = '?'
	CmdSendAPDU           byte = 'a'
)

// Status codes
const (
	StatusOK              byte = 0x00
	StatusCardNotInserted byte = 0x01
	StatusInvalidSlot     byte = 0x10
	StatusUnknownCommand  byte = 0xFE
)

// Device limits
const (
	DefaultTriggerDepth = 10
	TriggerSlots        = 4
	commandHeaderSize   = 5
)

// APDUHandler answers a command APDU sent to the simulated card.
type APDUHandler func(cmd SimAPDU) (data []byte, sw1, sw2 byte)

// SimAPDU is a command APDU as decoded by the simulator.
type SimAPDU struct {
	Data  []byte
	Le    uint32
	CLA   byte
	INS   byte
	P1    byte
	P2    byte
	HasLe bool
}

// CommandLogEntry records a command received by the simulator
type CommandLogEntry struct {
	Timestamp time.Time
	Payload   []byte
	Cmd       byte
}

// VirtualLEIA simulates a LEIA reader at the wire protocol level.
// It implements io.ReadWriter to plug directly into transport layer tests.
type VirtualLEIA struct {
	apduHandler    APDUHandler
	slots          map[byte][]byte
	forcedStatus   *byte
	lengthOverride *uint32
	atr            []byte
	configuration  []byte
	commandLog     []CommandLogEntry
	rxBuffer       bytes.Buffer
	txBuffer       bytes.Buffer
	triggerDepth   int
	truncateTo     int
	resyncCount    int
	mu             syncutil.Mutex
	cardInserted   bool
	silent         bool
	dropNextAck    bool
	structAPDU     bool
}

// NewVirtualLEIA creates a simulator with a card inserted, the default ATR and
// an APDU handler answering 90 00.
func NewVirtualLEIA() *VirtualLEIA {
	return &VirtualLEIA{
		apduHandler:  DefaultAPDUHandler,
		slots:        make(map[byte][]byte),
		atr:          BuildATR(DefaultATR()),
		triggerDepth: DefaultTriggerDepth,
		truncateTo:   -1,
		cardInserted: true,
	}
}

// DefaultAPDUHandler answers every command with an empty 90 00 response.
func DefaultAPDUHandler(SimAPDU) (data []byte, sw1, sw2 byte) {
	return nil, 0x90, 0x00
}

// Write implements io.Writer - receives data from the host.
func (v *VirtualLEIA) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	v.processReceivedData()
	return len(data), nil
}

// Read implements io.Reader - returns pending device output, or 0 bytes when
// there is none.
func (v *VirtualLEIA) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

// SetCardInserted inserts or removes the simulated card.
func (v *VirtualLEIA) SetCardInserted(inserted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cardInserted = inserted
}

// SetATR sets the 60 byte ATR descriptor image returned by get_atr.
func (v *VirtualLEIA) SetATR(image []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.atr = append([]byte(nil), image...)
}

// SetAPDUHandler replaces the card's APDU handler.
func (v *VirtualLEIA) SetAPDUHandler(h APDUHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.apduHandler = h
}

// SetTriggerDepth sets the strategy depth of the simulated firmware build.
func (v *VirtualLEIA) SetTriggerDepth(depth int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggerDepth = depth
}

// SetStructAPDU makes send_apdu expect the packed CommandAPDU structure
// instead of the normalized form.
func (v *VirtualLEIA) SetStructAPDU(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.structAPDU = enabled
}

// SetSilent stops the simulator from answering resync with the ready marker.
func (v *VirtualLEIA) SetSilent(silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = silent
}

// ForceNextStatus makes the next command report code instead of its real status.
func (v *VirtualLEIA) ForceNextStatus(code byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.forcedStatus = &code
}

// DropNextAck omits the ack marker and response of the next successful command.
func (v *VirtualLEIA) DropNextAck() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextAck = true
}

// OverrideNextResponseLength makes the next response declare n bytes
// whatever its actual size.
func (v *VirtualLEIA) OverrideNextResponseLength(n uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lengthOverride = &n
}

// TruncateNextResponse sends only the first n bytes of the next response payload.
func (v *VirtualLEIA) TruncateNextResponse(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.truncateTo = n
}

// InjectStaleBytes queues bytes for the host to read before anything else,
// as left behind by an interrupted exchange.
func (v *VirtualLEIA) InjectStaleBytes(data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txBuffer.Write(data)
}

// TriggerStrategy returns the raw strategy stored in slot.
func (v *VirtualLEIA) TriggerStrategy(slot byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.slots[slot]...)
}

// Configuration returns the last configure payload received.
func (v *VirtualLEIA) Configuration() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.configuration...)
}

// CommandLog returns every complete command received, in order.
func (v *VirtualLEIA) CommandLog() []CommandLogEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]CommandLogEntry(nil), v.commandLog...)
}

// ResyncCount returns how many resync bytes were answered or ignored.
func (v *VirtualLEIA) ResyncCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resyncCount
}

// HasPendingResponse returns true if output is waiting to be read.
func (v *VirtualLEIA) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// processReceivedData consumes resync bytes and complete command frames.
// A space seen where a command byte is expected is a resync request; inside
// a frame it is ordinary payload.
func (v *VirtualLEIA) processReceivedData() {
	for v.rxBuffer.Len() > 0 {
		data := v.rxBuffer.Bytes()
		if data[0] == ResyncByte {
			v.rxBuffer.Next(1)
			v.resyncCount++
			if !v.silent {
				v.txBuffer.WriteByte(ReadyMarker)
			}
			continue
		}
		if len(data) < commandHeaderSize {
			return
		}
		n := int(binary.BigEndian.Uint32(data[1:commandHeaderSize]))
		if len(data) < commandHeaderSize+n {
			return
		}
		cmd := data[0]
		payload := append([]byte(nil), data[commandHeaderSize:commandHeaderSize+n]...)
		v.rxBuffer.Next(commandHeaderSize + n)
		v.commandLog = append(v.commandLog, CommandLogEntry{Cmd: cmd, Payload: payload, Timestamp: time.Now()})
		v.processCommand(cmd, payload)
	}
}

func (v *VirtualLEIA) processCommand(cmd byte, payload []byte) {
	status, resp, returnsData := v.handle(cmd, payload)
	if v.forcedStatus != nil {
		status = *v.forcedStatus
		v.forcedStatus = nil
	}

	v.txBuffer.WriteByte(StatusMarker)
	v.txBuffer.WriteByte(status)
	if status != StatusOK {
		return
	}
	if v.dropNextAck {
		v.dropNextAck = false
		return
	}
	v.txBuffer.WriteByte(AckMarker)
	if !returnsData {
		return
	}

	declared := uint32(len(resp)) //nolint:gosec // response images are small
	if v.lengthOverride != nil {
		declared = *v.lengthOverride
		v.lengthOverride = nil
	}
	if v.truncateTo >= 0 && v.truncateTo < len(resp) {
		resp = resp[:v.truncateTo]
		v.truncateTo = -1
	}
	v.txBuffer.Write(binary.BigEndian.AppendUint32(nil, declared))
	v.txBuffer.Write(resp)
}

func (v *VirtualLEIA) handle(cmd byte, payload []byte) (status byte, resp []byte, returnsData bool) {
	switch cmd {
	case CmdReset:
		return v.cardStatus(), nil, false
	case CmdConfigure:
		v.configuration = append([]byte(nil), payload...)
		return v.cardStatus(), nil, false
	case CmdGetTriggerStrategy:
		return v.handleGetTriggerStrategy(payload)
	case CmdSetTriggerStrategy:
		return v.handleSetTriggerStrategy(payload), nil, false
	case CmdGetATR:
		if !v.cardInserted {
			return StatusCardNotInserted, nil, true
		}
		return StatusOK, append([]byte(nil), v.atr...), true
	case CmdIsCardInserted:
		inserted := byte(0)
		if v.cardInserted {
			inserted = 1
		}
		return StatusOK, []byte{inserted}, true
	case CmdSendAPDU:
		if !v.cardInserted {
			return StatusCardNotInserted, nil, true
		}
		apdu := v.decodeAPDU(payload)
		data, sw1, sw2 := v.apduHandler(apdu)
		return StatusOK, BuildResponseAPDU(data, sw1, sw2), true
	default:
		return StatusUnknownCommand, nil, false
	}
}

func (v *VirtualLEIA) cardStatus() byte {
	if v.cardInserted {
		return StatusOK
	}
	return StatusCardNotInserted
}

func (v *VirtualLEIA) handleGetTriggerStrategy(payload []byte) (status byte, resp []byte, returnsData bool) {
	if len(payload) != 1 || payload[0] >= TriggerSlots {
		return StatusInvalidSlot, nil, true
	}
	resp = make([]byte, TriggerStrategySize(v.triggerDepth))
	copy(resp, v.slots[payload[0]])
	return StatusOK, resp, true
}

func (v *VirtualLEIA) handleSetTriggerStrategy(payload []byte) byte {
	if len(payload) == 0 || payload[0] >= TriggerSlots {
		return StatusInvalidSlot
	}
	strategy := make([]byte, TriggerStrategySize(v.triggerDepth))
	if len(payload) > 4 {
		copy(strategy, payload[4:])
	}
	v.slots[payload[0]] = strategy
	return StatusOK
}

func (v *VirtualLEIA) decodeAPDU(p []byte) SimAPDU {
	if v.structAPDU {
		return decodePackedAPDU(p)
	}
	return DecodeNormalizedAPDU(p)
}

// DecodeNormalizedAPDU parses header [Lc data] [Le(4, LE)] or header Lc(0).
// A body that reads both as Lc+data and as a bare Le is taken as Lc+data.
func DecodeNormalizedAPDU(p []byte) SimAPDU {
	var a SimAPDU
	if len(p) < 4 {
		return a
	}
	a.CLA, a.INS, a.P1, a.P2 = p[0], p[1], p[2], p[3]
	rest := p[4:]
	switch {
	case len(rest) <= 1:
	case int(rest[0])+1 == len(rest):
		a.Data = append([]byte(nil), rest[1:]...)
	case int(rest[0])+5 == len(rest):
		a.Data = append([]byte(nil), rest[1:1+int(rest[0])]...)
		a.Le = binary.LittleEndian.Uint32(rest[1+int(rest[0]):])
		a.HasLe = true
	case len(rest) == 4:
		a.Le = binary.LittleEndian.Uint32(rest)
		a.HasLe = true
	}
	return a
}

func decodePackedAPDU(p []byte) SimAPDU {
	buf := make([]byte, 13)
	copy(buf, p)
	a := SimAPDU{CLA: buf[0], INS: buf[1], P1: buf[2], P2: buf[3]}
	lc := int(binary.LittleEndian.Uint16(buf[4:]))
	a.Le = binary.LittleEndian.Uint32(buf[8:])
	a.HasLe = buf[12] != 0
	if len(p) > 13 {
		a.Data = append([]byte(nil), p[13:13+min(lc, len(p)-13)]...)
	}
	return a
}

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
	"encoding/binary"
	"fmt"
	"time"
)

// Protocol markers
const (
	resyncByte   byte = ' '
	readyMarker  byte = 'W'
	statusMarker byte = 'S'
	ackMarker    byte = 'R'
)

// State is the position of the device client in the request handshake.
type State int

// Handshake states, in the order an operation walks through them.
const (
	StateIdle State = iota
	StateResyncing
	StateAwaitingStatus
	StateAwaitingAck
	StateAwaitingResponseLength
	StateAwaitingResponsePayload
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResyncing:
		return "Resyncing"
	case StateAwaitingStatus:
		return "AwaitingStatus"
	case StateAwaitingAck:
		return "AwaitingAck"
	case StateAwaitingResponseLength:
		return "AwaitingResponseLength"
	case StateAwaitingResponsePayload:
		return "AwaitingResponsePayload"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// command describes one entry of the device command set.
type command struct {
	name string
	id   byte
	// returnsData is set for commands followed by a length-prefixed response
	returnsData bool
	// responseSize, when non-zero, is the only response length accepted
	responseSize int
}

// Command set
var (
	cmdReset              = command{name: "reset", id: 'r'}
	cmdConfigure          = command{name: "configure", id: 'c'}
	cmdGetTriggerStrategy = command{name: "get_trigger_strategy", id: 'o', returnsData: true}
	cmdSetTriggerStrategy = command{name: "set_trigger_strategy", id: 'O'}
	cmdGetATR             = command{name: "get_atr", id: 't', returnsData: true}
	cmdIsCardInserted     = command{name: "is_card_inserted", id: '?', returnsData: true, responseSize: 1}
	cmdSendAPDU           = command{name: "send_apdu", id: 'a', returnsData: true}
)

func (d *Device) setState(s State) {
	if d.state != s {
		Debugf("handshake: %s -> %s", d.state, s)
		d.state = s
	}
}

// exchange runs one complete operation: resync, dispatch, status, ack and,
// for commands that return data, the length-prefixed response. The context
// is only consulted before anything is sent.
func (d *Device) exchange(ctx context.Context, cmd command, payload []byte) (resp []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.name, err)
	}

	d.trace.Begin(cmd.name)
	defer func() {
		d.lastTrace = d.trace.Entries()
		d.setState(StateIdle)
		if err != nil {
			Debugf("%s failed: %v", cmd.name, err)
			err = d.trace.WrapError(err)
		}
	}()

	if err = d.resync(cmd.name); err != nil {
		return nil, err
	}
	if err = d.dispatch(cmd, payload); err != nil {
		return nil, err
	}
	if err = d.checkStatus(cmd.name); err != nil {
		return nil, err
	}
	if err = d.checkAck(cmd.name); err != nil {
		return nil, err
	}
	if !cmd.returnsData {
		return nil, nil
	}

	n, err := d.readResponseLength(cmd)
	if err != nil {
		return nil, err
	}
	return d.readPayload(cmd.name, n)
}

// resync brings the device back to its ready state: flush the channel, send
// the resync byte and expect the ready marker as the last byte received.
func (d *Device) resync(name string) error {
	d.setState(StateResyncing)

	stale, err := d.drain()
	if err != nil {
		return fmt.Errorf("%s: drain before resync: %w", name, err)
	}
	if len(stale) > 0 {
		Debugf("%s: discarded %d stale bytes: %s", name, len(stale), formatHexBytes(stale))
	}

	if err := d.write(name, []byte{resyncByte}, "resync"); err != nil {
		return err
	}
	if d.config.ResyncDelay > 0 {
		time.Sleep(d.config.ResyncDelay)
	}

	got, readErr := d.read(1, "ready")
	rest, drainErr := d.drain()
	got = append(got, rest...)

	if len(got) == 0 || got[len(got)-1] != readyMarker {
		cause := readErr
		if cause == nil {
			cause = drainErr
		}
		return &ProtocolError{
			Kind:     ErrLinkNotReady,
			Err:      cause,
			Command:  name,
			Stage:    "resync",
			Expected: []byte{readyMarker},
			Observed: got,
		}
	}
	return nil
}

// drain empties whatever the transport has buffered without waiting.
func (d *Device) drain() ([]byte, error) {
	var out []byte
	for range MaxDrainReads {
		chunk, err := d.transport.ReadAvailable()
		if len(chunk) > 0 {
			d.trace.RecordRX(chunk, "drain")
			out = append(out, chunk...)
		}
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			break
		}
	}
	return out, nil
}

// dispatch sends the command byte, the big-endian payload length and the payload.
func (d *Device) dispatch(cmd command, payload []byte) error {
	frame := make([]byte, 0, 1+CommandLenSize+len(payload))
	frame = append(frame, cmd.id)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload))) //nolint:gosec // payloads are structure sized
	frame = append(frame, payload...)
	if err := d.write(cmd.name, frame, cmd.name); err != nil {
		return err
	}
	d.setState(StateAwaitingStatus)
	return nil
}

func (d *Device) checkStatus(name string) error {
	marker, err := d.read(1, "status marker")
	if len(marker) == 0 {
		return &ProtocolError{Kind: ErrNoStatusMarker, Err: err, Command: name, Stage: "status"}
	}
	if marker[0] != statusMarker {
		return &ProtocolError{
			Kind:     ErrInvalidStatusMarker,
			Command:  name,
			Stage:    "status",
			Expected: []byte{statusMarker},
			Observed: marker,
		}
	}

	code, err := d.read(1, "status code")
	if len(code) == 0 {
		return &ProtocolError{Kind: ErrNoStatusCode, Err: err, Command: name, Stage: "status"}
	}
	if code[0] != StatusOK {
		return &DeviceError{Command: name, Code: code[0]}
	}
	d.setState(StateAwaitingAck)
	return nil
}

func (d *Device) checkAck(name string) error {
	ack, err := d.read(1, "ack")
	if len(ack) == 0 || ack[0] != ackMarker {
		return &ProtocolError{
			Kind:     ErrNoAck,
			Err:      err,
			Command:  name,
			Stage:    "ack",
			Expected: []byte{ackMarker},
			Observed: ack,
		}
	}
	d.setState(StateAwaitingResponseLength)
	return nil
}

func (d *Device) readResponseLength(cmd command) (int, error) {
	raw, err := d.read(ResponseLenSize, "response length")
	if len(raw) < ResponseLenSize {
		return 0, &ProtocolError{
			Kind:     ErrTruncatedResponseLength,
			Err:      err,
			Command:  cmd.name,
			Stage:    "response length",
			Observed: raw,
		}
	}

	n := int(binary.BigEndian.Uint32(raw))
	if cmd.responseSize != 0 && n != cmd.responseSize {
		return 0, &ProtocolError{
			Kind:     ErrUnexpectedResponseSize,
			Command:  cmd.name,
			Stage:    "response length",
			Expected: binary.BigEndian.AppendUint32(nil, uint32(cmd.responseSize)), //nolint:gosec // small constant
			Observed: raw,
		}
	}
	if n > d.config.MaxResponseSize {
		return 0, &ProtocolError{
			Kind:     ErrUnexpectedResponseSize,
			Err:      fmt.Errorf("declared %d bytes, limit is %d", n, d.config.MaxResponseSize),
			Command:  cmd.name,
			Stage:    "response length",
			Observed: raw,
		}
	}
	d.setState(StateAwaitingResponsePayload)
	return n, nil
}

func (d *Device) readPayload(name string, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	payload, err := d.read(n, "response")
	if len(payload) < n {
		return nil, &ProtocolError{
			Kind:     ErrTruncatedResponsePayload,
			Err:      err,
			Command:  name,
			Stage:    fmt.Sprintf("response payload (%d of %d bytes)", len(payload), n),
			Observed: payload,
		}
	}
	return payload, nil
}

func (d *Device) write(name string, data []byte, note string) error {
	d.trace.RecordTX(data, note)
	Debugf("TX %s: %s", note, hexBytes(data))
	if err := d.transport.Write(data); err != nil {
		return fmt.Errorf("%s: write %s: %w", name, note, err)
	}
	return nil
}

// read reads up to n bytes with the configured timeout and records them.
// Partial data is returned together with the transport error.
func (d *Device) read(n int, note string) ([]byte, error) {
	data, err := d.transport.Read(n, d.config.Timeout)
	if len(data) > 0 {
		d.trace.RecordRX(data, note)
		Debugf("RX %s: %s", note, hexBytes(data))
	}
	if err != nil {
		d.trace.RecordTimeout(fmt.Sprintf("%s after %d of %d bytes: %v", note, len(data), n, err))
	}
	return data, err
}

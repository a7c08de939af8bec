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
	"fmt"
	"time"
)

// Reset power-cycles the card interface.
func (d *Device) Reset(ctx context.Context) error {
	_, err := d.exchange(ctx, cmdReset, nil)
	return err
}

// Configure sets the card protocol and timing. A nil request sends the
// defaults of NewConfigureRequest: automatic protocol, ETU and frequency,
// with PTS and baudrate negotiation enabled.
func (d *Device) Configure(ctx context.Context, req *ConfigureRequest) error {
	if req == nil {
		var err error
		if req, err = NewConfigureRequest(); err != nil {
			return err
		}
	}
	payload, err := req.MarshalBinary()
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	_, err = d.exchange(ctx, cmdConfigure, payload)
	return err
}

// GetTriggerStrategy reads the strategy stored in slot.
func (d *Device) GetTriggerStrategy(ctx context.Context, slot uint8) (*TriggerStrategy, error) {
	resp, err := d.exchange(ctx, cmdGetTriggerStrategy, []byte{slot})
	if err != nil {
		return nil, err
	}
	return DecodeTriggerStrategy(d.config.TriggerDepth, resp)
}

// SetTriggerStrategy stores points and delay in slot. It returns the request
// that was sent.
func (d *Device) SetTriggerStrategy(
	ctx context.Context, slot uint8, points []TriggerPoint, delay uint32,
) (*SetTriggerStrategy, error) {
	req, err := NewSetTriggerStrategy(slot, d.config.TriggerDepth, points, delay)
	if err != nil {
		return nil, err
	}
	payload, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := d.exchange(ctx, cmdSetTriggerStrategy, payload); err != nil {
		return nil, err
	}
	return req, nil
}

// GetATR returns the Answer To Reset of the inserted card.
func (d *Device) GetATR(ctx context.Context) (*ATR, error) {
	resp, err := d.exchange(ctx, cmdGetATR, nil)
	if err != nil {
		return nil, err
	}
	atr := &ATR{}
	if err := atr.UnmarshalBinary(resp); err != nil {
		return nil, err
	}
	return atr, nil
}

// IsCardInserted reports whether a card sits in the reader.
func (d *Device) IsCardInserted(ctx context.Context) (bool, error) {
	resp, err := d.exchange(ctx, cmdIsCardInserted, nil)
	if err != nil {
		return false, err
	}
	return resp[0] == 1, nil
}

// SendAPDU sends a command APDU to the card and returns its response.
func (d *Device) SendAPDU(ctx context.Context, apdu *CommandAPDU) (*ResponseAPDU, error) {
	if apdu == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidAPDU)
	}
	if err := apdu.Validate(); err != nil {
		return nil, err
	}

	var payload []byte
	switch d.config.APDUEncoding {
	case APDUEncodingStruct:
		payload = apdu.Pack()
	default:
		if apdu.Lc > NormalizedMaxLc {
			return nil, &APDUError{
				Input: apdu.header(),
				Reason: fmt.Sprintf("Lc %d does not fit the normalized encoding (max %d); use the struct encoding",
					apdu.Lc, NormalizedMaxLc),
			}
		}
		payload = apdu.Normalized()
	}
	Debugf("send_apdu: %s", apdu)

	resp, err := d.exchange(ctx, cmdSendAPDU, payload)
	if err != nil {
		return nil, err
	}
	out := &ResponseAPDU{}
	if err := out.UnmarshalBinary(resp); err != nil {
		return nil, err
	}
	Debugf("send_apdu: %s", out)
	return out, nil
}

// SendRawAPDU parses raw as an ISO7816 short APDU and sends it.
func (d *Device) SendRawAPDU(ctx context.Context, raw []byte) (*ResponseAPDU, error) {
	apdu, err := CreateAPDUFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return d.SendAPDU(ctx, apdu)
}

// Init empties the channel of anything left over from a previous session and
// checks that the device reports ready.
func (d *Device) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	deadline := time.Now().Add(InitDrainTimeout)
	discarded := 0
	for time.Now().Before(deadline) {
		stale, err := d.drain()
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		if len(stale) == 0 {
			break
		}
		discarded += len(stale)
	}
	if discarded > 0 {
		Debugf("init: discarded %d stale bytes", discarded)
	}
	return d.Ping(ctx)
}

// Ping runs a bare resync to check that the device is alive and ready.
func (d *Device) Ping(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	d.trace.Begin("ping")
	defer func() {
		d.lastTrace = d.trace.Entries()
		d.setState(StateIdle)
		err = d.trace.WrapError(err)
	}()
	return d.resync("ping")
}

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
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAPDUFromBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        []byte
		normalized []byte
		data       []byte
		le         uint32
		sendLe     uint8
	}{
		{
			name:       "case 1 header only",
			raw:        []byte{0x00, 0xA4, 0x04, 0x00},
			normalized: []byte{0x00, 0xA4, 0x04, 0x00, 0x00},
		},
		{
			name:       "case 2 Le only",
			raw:        []byte{0x00, 0xB0, 0x00, 0x00, 0x10},
			normalized: []byte{0x00, 0xB0, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00},
			le:         0x10,
			sendLe:     1,
		},
		{
			name:       "case 3 data",
			raw:        []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0x3F, 0x00},
			normalized: []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0x3F, 0x00},
			data:       []byte{0x3F, 0x00},
		},
		{
			name:       "case 4 data and Le",
			raw:        []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00, 0x00},
			normalized: []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00, 0x00, 0x00, 0x00, 0x00},
			data:       []byte{0x3F, 0x00},
			sendLe:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			apdu, err := CreateAPDUFromBytes(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.raw[:4], apdu.header())
			assert.Equal(t, len(tt.data), int(apdu.Lc))
			if len(tt.data) > 0 {
				assert.Equal(t, tt.data, apdu.Payload())
			} else {
				assert.Empty(t, apdu.Payload())
			}
			assert.Equal(t, tt.le, apdu.Le)
			assert.Equal(t, tt.sendLe, apdu.SendLe)
			assert.Equal(t, tt.normalized, apdu.Normalized())
		})
	}
}

func TestCreateAPDUFromBytes_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "short header", raw: []byte{0x00, 0xA4, 0x04}},
		{name: "zero Lc with data", raw: []byte{0x00, 0xA4, 0x04, 0x00, 0x00, 0x01}},
		{name: "Lc longer than data", raw: []byte{0x00, 0xA4, 0x04, 0x00, 0x05, 0x01, 0x02}},
		{name: "trailing bytes", raw: []byte{0x00, 0xA4, 0x04, 0x00, 0x01, 0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := CreateAPDUFromBytes(tt.raw)
			require.ErrorIs(t, err, ErrInvalidAPDU)
			var apduErr *APDUError
			require.ErrorAs(t, err, &apduErr)
			assert.Equal(t, tt.raw, apduErr.Input)
		})
	}
}

func TestCommandAPDU_Layout(t *testing.T) {
	t.Parallel()

	apdu, err := NewCommandAPDU(0x80, 0xCA, 0x9F, 0x7F, []byte{0xAA, 0xBB, 0xCC}, 0x0102, true)
	require.NoError(t, err)

	image, err := apdu.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, image, CommandAPDUSize)
	assert.Equal(t, []byte{0x80, 0xCA, 0x9F, 0x7F}, image[:4])
	assert.Equal(t, []byte{0x03, 0x00}, image[4:6], "lc is little-endian u16 at 4")
	assert.Equal(t, []byte{0x00, 0x00}, image[6:8], "padding before le")
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00}, image[8:12], "le is little-endian u32 at 8")
	assert.Equal(t, byte(1), image[12])
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, image[13:16])
	assert.True(t, bytes.Equal(make([]byte, CommandAPDUSize-16), image[16:]))

	packed := apdu.Pack()
	assert.Equal(t, image[:16], packed)
}

func TestCommandAPDU_RoundTrip(t *testing.T) {
	t.Parallel()

	want, err := NewCommandAPDU(0x00, 0x88, 0x00, 0x00, bytes.Repeat([]byte{0x5A}, 300), 256, true)
	require.NoError(t, err)

	image, err := want.MarshalBinary()
	require.NoError(t, err)

	got := &CommandAPDU{}
	require.NoError(t, got.UnmarshalBinary(image))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CommandAPDU round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCommandAPDU_ShortInputIsZeroFilled(t *testing.T) {
	t.Parallel()

	got := &CommandAPDU{Lc: 9, SendLe: 1}
	require.NoError(t, got.UnmarshalBinary([]byte{0x00, 0xA4}))
	if diff := cmp.Diff(&CommandAPDU{INS: 0xA4}, got); diff != "" {
		t.Errorf("unexpected decode (-want +got):\n%s", diff)
	}
}

func TestCommandAPDU_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewCommandAPDU(0, 0, 0, 0, make([]byte, CommandAPDUDataCapacity+1), 0, false)
	require.ErrorIs(t, err, ErrInvalidAPDU)

	apdu := &CommandAPDU{Lc: CommandAPDUDataCapacity + 1}
	require.ErrorIs(t, apdu.Validate(), ErrInvalidAPDU)
	_, err = apdu.MarshalBinary()
	require.ErrorIs(t, err, ErrInvalidAPDU)

	full, err := NewCommandAPDU(0, 0, 0, 0, make([]byte, CommandAPDUDataCapacity), 0, false)
	require.NoError(t, err)
	require.NoError(t, full.Validate())
}

func TestCommandAPDU_String(t *testing.T) {
	t.Parallel()

	apdu, err := CreateAPDUFromBytes([]byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0x3F, 0x00})
	require.NoError(t, err)
	assert.Equal(t,
		"CommandAPDU(cla=0x00, ins=0xa4, p1=0x04, p2=0x00, lc=2, le=0, send_le=0, data=3F 00)",
		apdu.String())
}

func TestResponseAPDU_Decode(t *testing.T) {
	t.Parallel()

	image := make([]byte, ResponseAPDUSize)
	image[0] = 0x03
	image[4] = 0x90
	image[5] = 0x00
	copy(image[6:], []byte{0x01, 0x02, 0x03, 0xFF})

	resp := &ResponseAPDU{}
	require.NoError(t, resp.UnmarshalBinary(image))
	assert.Equal(t, uint32(3), resp.Le)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, resp.Payload())
	assert.Equal(t, uint16(0x9000), resp.StatusWord())
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x90, 0x00}, resp.Normalized())
	assert.Equal(t, "ResponseAPDU(sw1=0x90, sw2=0x00, le=3, data=01 02 03)", resp.String())

	again, err := resp.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, image, again)
}

func TestResponseAPDU_Edges(t *testing.T) {
	t.Parallel()

	t.Run("status only", func(t *testing.T) {
		t.Parallel()
		resp := &ResponseAPDU{}
		require.NoError(t, resp.UnmarshalBinary([]byte{0, 0, 0, 0, 0x6A, 0x82}))
		assert.Empty(t, resp.Payload())
		assert.Equal(t, []byte{0x6A, 0x82}, resp.Normalized())
		assert.Equal(t, "ResponseAPDU(sw1=0x6a, sw2=0x82, le=0)", resp.String())
	})

	t.Run("le beyond capacity is clamped", func(t *testing.T) {
		t.Parallel()
		resp := &ResponseAPDU{Le: 10000}
		assert.Len(t, resp.Payload(), ResponseAPDUDataCapacity)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		resp := &ResponseAPDU{Le: 4, SW1: 0x90}
		require.NoError(t, resp.UnmarshalBinary(nil))
		if diff := cmp.Diff(&ResponseAPDU{}, resp); diff != "" {
			t.Errorf("unexpected decode (-want +got):\n%s", diff)
		}
	})
}

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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceBuffer_Eviction(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(3)
	tb.Begin("get_atr")
	for i := range 5 {
		tb.RecordTX([]byte{byte(i)}, "")
	}
	entries := tb.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []byte{2}, entries[0].Data)
	assert.Equal(t, []byte{4}, entries[2].Data)

	tb.Begin("reset")
	assert.Empty(t, tb.Entries())
}

func TestTraceBuffer_DefaultSize(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(0)
	for range 20 {
		tb.RecordRX([]byte{0x57}, "ready")
	}
	assert.Len(t, tb.Entries(), 16)
}

func TestTraceBuffer_CopiesData(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(4)
	data := []byte{0x01, 0x02}
	tb.RecordTX(data, "frame")
	data[0] = 0xFF
	assert.Equal(t, []byte{0x01, 0x02}, tb.Entries()[0].Data)
}

func TestTraceBuffer_WrapError(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(8)
	tb.Begin("is_card_inserted")
	tb.RecordTX([]byte{' '}, "resync")
	tb.RecordRX([]byte{'W'}, "ready")
	tb.RecordTimeout("status marker after 0 of 1 bytes")

	require.NoError(t, tb.WrapError(nil))

	err := tb.WrapError(ErrNoStatusMarker)
	require.ErrorIs(t, err, ErrProtocolFraming)
	assert.Equal(t, ErrNoStatusMarker.Error(), err.Error())

	te := GetTrace(fmt.Errorf("outer: %w", err))
	require.NotNil(t, te)
	assert.Equal(t, "is_card_inserted", te.Command)
	require.Len(t, te.Trace, 3)

	out := te.FormatTrace()
	assert.True(t, strings.HasPrefix(out, "[is_card_inserted] Wire trace (3 entries):\n"))
	assert.Contains(t, out, "  > 20 (resync)\n")
	assert.Contains(t, out, "  < 57 (ready)\n")
	assert.Contains(t, out, "  < (empty) (TIMEOUT: status marker after 0 of 1 bytes)\n")

	assert.Nil(t, GetTrace(errors.New("plain")))
	assert.Equal(t, "[reset] (no trace data)", (&TraceableError{Command: "reset", Err: ErrNoAck}).FormatTrace())
}

func TestTraceEntry_String(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(2)
	tb.RecordTX([]byte{'?', 0, 0, 0, 0}, "is_card_inserted")
	s := tb.Entries()[0].String()
	assert.Contains(t, s, "TX: 3F 00 00 00 00 (is_card_inserted)")
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "3B 65", formatHexBytes([]byte{0x3B, 0x65}))

	long := formatHexBytes(make([]byte, 40))
	assert.True(t, strings.HasSuffix(long, " ... (40 bytes total)"))
	assert.Equal(t, 32, strings.Count(long, "00"))
}

func TestHexBytes_FormatsOnDemand(t *testing.T) {
	t.Parallel()

	var s fmt.Stringer = hexBytes([]byte{0x61, 0x00})
	assert.Equal(t, "61 00", s.String())
	assert.Equal(t, "TX cmd: 61 00", fmt.Sprintf("TX %s: %s", "cmd", hexBytes([]byte{0x61, 0x00})))
	assert.Equal(t, "(empty)", hexBytes(nil).String())
}

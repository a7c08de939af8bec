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

import "encoding/binary"

// Structures exchanged with the device are the firmware's C structs copied
// byte for byte: fields are little-endian and naturally aligned, and the total
// size is rounded up to the widest member. Only the command and response
// length prefixes use big-endian.
var fieldOrder = binary.LittleEndian

// Wire format constants
const (
	// CommandLenSize is the size of the big-endian payload length that follows the command byte.
	CommandLenSize = 4
	// ResponseLenSize is the size of the big-endian response length prefix.
	ResponseLenSize = 4
)

// fit returns a zeroed buffer of exactly size bytes holding as much of b as fits.
// Decoders use it so that short input never reads past the end.
func fit(b []byte, size int) []byte {
	buf := make([]byte, size)
	copy(buf, b)
	return buf
}

// align rounds n up to a multiple of a.
func align(n, a int) int {
	return (n + a - 1) / a * a
}

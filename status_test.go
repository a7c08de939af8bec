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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceStatusName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OK", DeviceStatusName(StatusOK))
	assert.Equal(t, "CardNotInserted", DeviceStatusName(StatusCardNotInserted))
	assert.Equal(t, UnknownStatusName, DeviceStatusName(0xEE))
}

func TestRegisterDeviceStatus(t *testing.T) {
	t.Parallel()

	const code byte = 0xA5
	RegisterDeviceStatus(code, "BufferOverflow")
	assert.Equal(t, "BufferOverflow", DeviceStatusName(code))

	err := &DeviceError{Command: "send_apdu", Code: code}
	assert.Equal(t, "send_apdu: device error 0xA5 (BufferOverflow)", err.Error())
}

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

import "github.com/ZaparooProject/go-leia/internal/syncutil"

// Status codes reported by the device after the 'S' marker.
const (
	StatusOK              byte = 0x00
	StatusCardNotInserted byte = 0x01
)

// UnknownStatusName is returned for codes missing from the status table.
const UnknownStatusName = "UnknownError"

var (
	statusMu    syncutil.RWMutex
	statusNames = map[byte]string{
		StatusOK:              "OK",
		StatusCardNotInserted: "CardNotInserted",
	}
)

// DeviceStatusName returns the symbolic name of a device status code.
// Codes that were never registered map to UnknownStatusName.
func DeviceStatusName(code byte) string {
	statusMu.RLock()
	defer statusMu.RUnlock()
	if name, ok := statusNames[code]; ok {
		return name
	}
	return UnknownStatusName
}

// RegisterDeviceStatus adds or renames a status code, for firmware builds
// that report more than the stock codes.
func RegisterDeviceStatus(code byte, name string) {
	statusMu.Lock()
	statusNames[code] = name
	statusMu.Unlock()
}

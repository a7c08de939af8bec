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

package detection

import (
	"maps"
	"time"

	"github.com/ZaparooProject/go-leia/internal/syncutil"
)

type cacheEntry struct {
	stored  time.Time
	devices []DeviceInfo
}

// resultCache keeps the last result of each transport detector.
type resultCache struct {
	entries map[string]cacheEntry
	mu      syncutil.RWMutex
}

var cache = &resultCache{entries: make(map[string]cacheEntry)}

// cloneDevices copies devices including their metadata maps.
func cloneDevices(devices []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = d
		out[i].Metadata = maps.Clone(d.Metadata)
	}
	return out
}

// getCached returns the devices stored for transport unless older than ttl.
func getCached(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	entry, ok := cache.entries[transport]
	if !ok || time.Since(entry.stored) > ttl {
		return nil, false
	}
	return cloneDevices(entry.devices), true
}

func setCached(transport string, devices []DeviceInfo) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.entries[transport] = cacheEntry{devices: cloneDevices(devices), stored: time.Now()}
}

func clearCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.entries = make(map[string]cacheEntry)
}

func clearCacheForTransport(transport string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	delete(cache.entries, transport)
}

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

import "time"

// Connection retry constants control ConnectDevice's first handshake.
const (
	// DefaultConnectionRetries is the number of attempts to bring the link up.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Operation retry constants are the DefaultRetryConfig values offered to
// callers reissuing a failed command.
const (
	// DefaultOperationRetries is the number of attempts per operation.
	DefaultOperationRetries = 3
	// OperationInitialBackoff is the delay before the first reissue.
	OperationInitialBackoff = 10 * time.Millisecond
	// OperationMaxBackoff is the maximum delay between reissues.
	OperationMaxBackoff = 1 * time.Second
	// OperationRetryTimeout is the overall timeout for all attempts.
	OperationRetryTimeout = 30 * time.Second
)

// Drain limits. The channel is drained with non-blocking reads until one
// comes back empty; the cap stops a device that streams garbage from holding
// the drain loop forever.
const (
	// MaxDrainReads is the most non-blocking reads a single drain performs.
	MaxDrainReads = 64
	// InitDrainTimeout is the longest Init spends emptying the channel.
	InitDrainTimeout = 1 * time.Second
)

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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	// MaxLatency is the upper bound of the random delay added before each read
	MaxLatency time.Duration
	// MaxFragment caps the bytes returned by a single read (0 = no cap)
	MaxFragment int
	// StallAfterBytes pauses delivery once, after this many bytes (0 = never)
	StallAfterBytes int
	// StallDuration is the length of that pause
	StallDuration time.Duration
	// Seed makes the fragmentation reproducible (0 = random)
	Seed uint64
}

// DefaultJitterConfig mimics a USB CDC bridge: small random latency and
// reads split into a few bytes at a time.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:  2 * time.Millisecond,
		MaxFragment: 3,
	}
}

// JitteryConnection wraps an io.ReadWriter and delivers its output in random
// fragments after random delays, the way USB serial bridges do. Nothing is
// lost: bytes the backend produced but the fragment did not cover are kept
// for the next Read.
type JitteryConnection struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	pending   []byte
	config    JitterConfig
	delivered int
	stalled   bool
}

// NewJitteryConnection wraps a backend io.ReadWriter with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test code
	}
	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x1EA1A)), //nolint:gosec // test code
	}
}

// Write passes writes through to the backend unchanged.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read returns between one byte and MaxFragment bytes of backend output.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		tmp := make([]byte, 1024)
		n, err := j.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, tmp[:n]...)
	}
	if len(j.pending) == 0 {
		return 0, nil
	}

	if j.config.StallAfterBytes > 0 && !j.stalled && j.delivered >= j.config.StallAfterBytes {
		j.stalled = true
		time.Sleep(j.config.StallDuration)
	}

	n := min(len(buf), len(j.pending))
	if j.config.MaxFragment > 0 && n > 1 {
		n = 1 + j.rng.IntN(min(n, j.config.MaxFragment))
	}
	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.delivered += n
	return n, nil
}

// Buffered reports whether bytes are held back from the previous backend read.
func (j *JitteryConnection) Buffered() bool {
	return len(j.pending) > 0
}

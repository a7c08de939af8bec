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

//nolint:paralleltest // Tests modify package-level session log state
package leia

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSessionLog(t *testing.T) string {
	t.Helper()
	path, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseSessionLog() })
	return path
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	path := startSessionLog(t)

	_, err := os.Stat(path)
	require.NoError(t, err, "Log file should exist")
	assert.Equal(t, path, GetSessionLogPath())
	assert.Regexp(t, regexp.MustCompile(`^leia_\d{8}_\d{6}\.log$`), filepath.Base(path))
}

func TestSessionLog_CapturesDebugWithoutConsole(t *testing.T) {
	SetDebugEnabled(false)
	path := startSessionLog(t)

	Debugf("probe %s", "/dev/ttyACM0")
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "=== LEIA Debug Session Log ===")
	assert.Contains(t, text, "Started:")
	assert.Contains(t, text, "PID:")
	assert.Contains(t, text, "probe /dev/ttyACM0")
	assert.Contains(t, text, "=== Session ended ===")
}

func TestCloseSessionLog_NoSession(t *testing.T) {
	require.NoError(t, CloseSessionLog())
	require.NoError(t, CloseSessionLog())
}

func TestInitSessionLog_BadDirectory(t *testing.T) {
	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.Empty(t, GetSessionLogPath())
}

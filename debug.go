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
	"os"

	"github.com/ZaparooProject/go-leia/internal/syncutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu syncutil.RWMutex
	// debugEnabled controls console debug output
	debugEnabled = os.Getenv("LEIA_DEBUG") != "" || os.Getenv("DEBUG") != ""
	// consoleLogger is the logger used for console output; nil means the built-in one
	consoleLogger *zap.Logger
	// logger is the combined console + session log sink
	logger = zap.NewNop().Sugar()
)

func init() {
	rebuildLogger()
}

// newConsoleLogger builds the default stderr logger used when debug output is enabled.
func newConsoleLogger() *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	return zap.New(core).Named("leia")
}

// rebuildLogger recombines the console and session log cores. Callers hold logMu.
func rebuildLogger() {
	var cores []zapcore.Core
	if debugEnabled {
		console := consoleLogger
		if console == nil {
			console = newConsoleLogger()
		}
		cores = append(cores, console.Core())
	}
	if sessionCore != nil {
		cores = append(cores, sessionCore)
	}
	switch len(cores) {
	case 0:
		logger = zap.NewNop().Sugar()
	case 1:
		logger = zap.New(cores[0]).Named("leia").Sugar()
	default:
		logger = zap.New(zapcore.NewTee(cores...)).Named("leia").Sugar()
	}
}

func currentLogger() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Debugf prints debug information.
// Always writes to the session log file (if initialized); only prints to the
// console when debug mode is enabled.
func Debugf(format string, args ...any) {
	currentLogger().Debugf(format, args...)
}

// Debugln prints debug information.
// Always writes to the session log file (if initialized); only prints to the
// console when debug mode is enabled.
func Debugln(args ...any) {
	currentLogger().Debugln(args...)
}

// SetDebugEnabled allows programmatic control of console debug logging
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debugEnabled = enabled
	rebuildLogger()
}

// SetLogger replaces the console logger used when debug output is enabled.
// Passing nil restores the built-in stderr logger.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	consoleLogger = l
	rebuildLogger()
}

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

// Command leia drives a LEIA smart card reader from the shell.
//
// Usage:
//
//	leia [global options] <command> [arguments]
//
// Without --port the first detected reader is used.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/go-leia"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// commit is set via ldflags at build time.
var commit = "unknown"

const version = "0.1.0"

func main() {
	os.Exit(mainWithExitCode(os.Args))
}

func mainWithExitCode(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		reportError(app.ErrWriter, err)
		return 1
	}
	return 0
}

// reportError prints err and, when it carries one, the wire trace of the
// failed exchange.
func reportError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	if trace := leia.GetTrace(err); trace != nil && len(trace.Trace) > 0 {
		_, _ = fmt.Fprint(w, trace.FormatTrace())
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "leia",
		Usage:     "Talk to a LEIA smart card reader",
		Version:   fmt.Sprintf("%s (commit: %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     globalFlags(),
		Before:    setup,
		After:     teardown,
		// errors are reported by mainWithExitCode
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			detectCommand(),
			pingCommand(),
			resetCommand(),
			configureCommand(),
			atrCommand(),
			insertedCommand(),
			apduCommand(),
			triggerCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"LEIA_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "serial port of the reader (auto-detect if empty)",
			EnvVars: []string{"LEIA_PORT"},
		},
		&cli.IntFlag{Name: "baud", Usage: "serial baud rate (0 keeps the default)"},
		&cli.DurationFlag{Name: "timeout", Usage: "per-read timeout"},
		&cli.StringFlag{Name: "encoding", Usage: "send_apdu payload encoding: normalized or struct"},
		&cli.IntFlag{Name: "retries", Usage: "attempts at opening the port and the first resync"},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "print protocol debug output"},
		&cli.StringFlag{Name: "log-dir", Usage: "write a session log file to this directory"},
	}
}

// setup loads the configuration, applies flag overrides and configures logging.
func setup(c *cli.Context) error {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(c.App.ErrWriter, cfg.Debug)
	leia.SetLogger(log.Named("leia"))
	leia.SetDebugEnabled(cfg.Debug)
	if cfg.LogDir != "" {
		path, err := leia.InitSessionLog(cfg.LogDir)
		if err != nil {
			return fmt.Errorf("failed to start session log: %w", err)
		}
		log.Info("session log", zap.String("path", path))
	}

	c.App.Metadata = map[string]any{"config": cfg, "log": log}
	return nil
}

func teardown(c *cli.Context) error {
	if log, ok := c.App.Metadata["log"].(*zap.Logger); ok {
		_ = log.Sync()
	}
	return leia.CloseSessionLog()
}

func applyFlags(c *cli.Context, cfg *Config) {
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if c.IsSet("baud") {
		cfg.Baud = c.Int("baud")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("encoding") {
		cfg.APDUEncoding = c.String("encoding")
	}
	if c.IsSet("retries") {
		cfg.Retries = c.Int("retries")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("log-dir") {
		cfg.LogDir = c.String("log-dir")
	}
}

// newLogger builds the tool's console logger. Debug enables debug level.
func newLogger(w io.Writer, debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
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
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core)
}

func configFrom(c *cli.Context) *Config {
	if cfg, ok := c.App.Metadata["config"].(*Config); ok {
		return cfg
	}
	return DefaultConfig()
}

func loggerFrom(c *cli.Context) *zap.Logger {
	if log, ok := c.App.Metadata["log"].(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

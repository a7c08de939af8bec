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

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/go-leia"
	"github.com/ZaparooProject/go-leia/detection"
	_ "github.com/ZaparooProject/go-leia/detection/uart"
	"github.com/ZaparooProject/go-leia/transport/uart"
	"github.com/urfave/cli/v2"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// openDevice connects to the configured reader. Tests replace it.
var openDevice = connectDevice

// detectDevices runs detection. Tests replace it.
var detectDevices = detection.DetectAll

func connectDevice(ctx context.Context, cfg *Config, log *zap.Logger) (*leia.Device, error) {
	deviceOpts, err := cfg.DeviceOptions()
	if err != nil {
		return nil, err
	}
	open := func(path string) (leia.Transport, error) {
		return openPort(ctx, cfg, log, path)
	}
	opts := []leia.ConnectOption{
		leia.WithDeviceOptions(deviceOpts...),
		leia.WithConnectionRetries(cfg.Retries),
		leia.WithTransportFactory(open),
		leia.WithTransportFromDeviceFactory(func(d detection.DeviceInfo) (leia.Transport, error) {
			return open(d.Path)
		}),
	}
	if cfg.Port == "" {
		opts = append(opts, leia.WithAutoDetection())
	}

	device, err := leia.ConnectDevice(ctx, cfg.Port, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LEIA: %w", err)
	}
	return device, nil
}

// openPort opens a serial port, retrying while another process holds it.
func openPort(ctx context.Context, cfg *Config, log *zap.Logger, path string) (leia.Transport, error) {
	var uartOpts []uart.Option
	if cfg.Baud > 0 {
		uartOpts = append(uartOpts, uart.WithBaudRate(cfg.Baud))
	}
	retry := leia.ConnectionRetryConfig()
	retry.MaxAttempts = cfg.Retries
	retry.ShouldRetry = isPortBusy
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Info("port busy, retrying", zap.String("port", path), zap.Int("attempt", attempt),
			zap.Duration("wait", wait), zap.Error(err))
	}
	transport, err := leia.Retry(ctx, retry, func(context.Context) (*uart.Transport, error) {
		return uart.New(path, uartOpts...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return transport, nil
}

func isPortBusy(err error) bool {
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortBusy
}

// withDevice opens the reader, runs fn and closes the reader.
func withDevice(c *cli.Context, fn func(ctx context.Context, device *leia.Device) error) error {
	cfg := configFrom(c)
	device, err := openDevice(c.Context, cfg, loggerFrom(c))
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			loggerFrom(c).Warn("failed to close device", zap.Error(err))
		}
	}()
	return fn(c.Context, device)
}

func printf(c *cli.Context, format string, args ...any) {
	_, _ = fmt.Fprintf(c.App.Writer, format, args...)
}

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "List connected LEIA readers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Value: "safe", Usage: "passive, safe or full"},
		},
		Action: func(c *cli.Context) error {
			mode, err := detection.ParseMode(c.String("mode"))
			if err != nil {
				return err
			}
			opts := detection.DefaultOptions()
			opts.Mode = mode
			opts.ProbeTimeout = configFrom(c).Timeout
			devices, err := detectDevices(c.Context, &opts)
			if errors.Is(err, detection.ErrNoDevicesFound) {
				printf(c, "no LEIA readers found\n")
				return nil
			}
			if err != nil {
				return err
			}
			for _, d := range devices {
				printf(c, "%s\n", d)
			}
			return nil
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check the link with a resync",
		Action: func(c *cli.Context) error {
			return withDevice(c, func(ctx context.Context, device *leia.Device) error {
				if err := device.Ping(ctx); err != nil {
					return err
				}
				printf(c, "ok\n")
				return nil
			})
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Reset the card",
		Action: func(c *cli.Context) error {
			return withDevice(c, func(ctx context.Context, device *leia.Device) error {
				return device.Reset(ctx)
			})
		},
	}
}

func configureCommand() *cli.Command {
	return &cli.Command{
		Name:  "configure",
		Usage: "Select protocol and timing used with the card",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "protocol", Value: -1, Usage: "force T=N (-1 negotiates)"},
			&cli.UintFlag{Name: "etu", Usage: "elementary time unit (0 negotiates)"},
			&cli.UintFlag{Name: "freq", Usage: "clock frequency in Hz (0 negotiates)"},
			&cli.BoolFlag{Name: "pts", Value: true, Usage: "negotiate PTS"},
			&cli.BoolFlag{Name: "baudrate", Value: true, Usage: "negotiate the baud rate"},
		},
		Action: func(c *cli.Context) error {
			req, err := configureRequestFromFlags(c)
			if err != nil {
				return err
			}
			return withDevice(c, func(ctx context.Context, device *leia.Device) error {
				if err := device.Configure(ctx, req); err != nil {
					return err
				}
				printf(c, "%s\n", req)
				return nil
			})
		},
	}
}

func configureRequestFromFlags(c *cli.Context) (*leia.ConfigureRequest, error) {
	opts := []leia.ConfigureOption{
		leia.WithETU(uint32(c.Uint("etu"))),        //nolint:gosec // flag value
		leia.WithFrequency(uint32(c.Uint("freq"))), //nolint:gosec // flag value
		leia.WithPTS(c.Bool("pts")),
		leia.WithBaudrateNegotiation(c.Bool("baudrate")),
	}
	if p := c.Int("protocol"); p >= 0 {
		opts = append(opts, leia.WithProtocol(p))
	}
	return leia.NewConfigureRequest(opts...)
}

func atrCommand() *cli.Command {
	return &cli.Command{
		Name:  "atr",
		Usage: "Print the card's Answer To Reset",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "decode the ATR fields"},
		},
		Action: func(c *cli.Context) error {
			return withDevice(c, func(ctx context.Context, device *leia.Device) error {
				atr, err := device.GetATR(ctx)
				if err != nil {
					return err
				}
				if c.Bool("verbose") {
					printf(c, "%s\n", atr.Describe())
					return nil
				}
				printf(c, "%s\n", atr)
				return nil
			})
		},
	}
}

func insertedCommand() *cli.Command {
	return &cli.Command{
		Name:  "inserted",
		Usage: "Report whether a card is in the reader",
		Action: func(c *cli.Context) error {
			return withDevice(c, func(ctx context.Context, device *leia.Device) error {
				inserted, err := device.IsCardInserted(ctx)
				if err != nil {
					return err
				}
				printf(c, "%t\n", inserted)
				return nil
			})
		},
	}
}

func apduCommand() *cli.Command {
	return &cli.Command{
		Name:      "apdu",
		Usage:     "Send a command APDU given in hex",
		ArgsUsage: "HEX",
		Action: func(c *cli.Context) error {
			raw, err := parseHexArg(strings.Join(c.Args().Slice(), ""))
			if err != nil {
				return err
			}
			apdu, err := leia.CreateAPDUFromBytes(raw)
			if err != nil {
				return err
			}
			return withDevice(c, func(ctx context.Context, device *leia.Device) error {
				resp, err := device.SendAPDU(ctx, apdu)
				if err != nil {
					return err
				}
				printf(c, "%s\n", strings.ToUpper(hex.EncodeToString(resp.Normalized())))
				loggerFrom(c).Debug("response", zap.Stringer("apdu", resp))
				return nil
			})
		},
	}
}

// parseHexArg accepts "00A40400", "00 a4 04 00" or "0x00A4...".
func parseHexArg(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	if s == "" {
		return nil, errors.New("missing APDU hex argument")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid APDU hex: %w", err)
	}
	return raw, nil
}

func triggerCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Read or store trigger strategies",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the strategy stored in a slot",
				ArgsUsage: "SLOT",
				Action: func(c *cli.Context) error {
					slot, err := parseSlot(c.Args().First())
					if err != nil {
						return err
					}
					return withDevice(c, func(ctx context.Context, device *leia.Device) error {
						strategy, err := device.GetTriggerStrategy(ctx, slot)
						if err != nil {
							return err
						}
						printf(c, "%s\n", strategy)
						return nil
					})
				},
			},
			{
				Name:      "set",
				Usage:     "Store a strategy in a slot",
				ArgsUsage: "SLOT",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Usage: "name of a trigger preset from the config"},
					&cli.StringSliceFlag{Name: "point", Usage: "trigger point name or number (repeatable)"},
					&cli.UintFlag{Name: "delay", Usage: "delay before raising the trigger"},
				},
				Action: triggerSetAction,
			},
		},
	}
}

func triggerSetAction(c *cli.Context) error {
	slot, err := parseSlot(c.Args().First())
	if err != nil {
		return err
	}
	cfg := configFrom(c)

	preset := TriggerPreset{Points: c.StringSlice("point")}
	if name := c.String("preset"); name != "" {
		if preset, err = cfg.Preset(name); err != nil {
			return err
		}
		if c.IsSet("point") {
			return errors.New("--preset and --point are exclusive")
		}
	}
	if c.IsSet("delay") {
		preset.Delay = uint32(c.Uint("delay")) //nolint:gosec // flag value
	}
	points, err := preset.TriggerPoints(cfg.TriggerDepth)
	if err != nil {
		return err
	}

	return withDevice(c, func(ctx context.Context, device *leia.Device) error {
		req, err := device.SetTriggerStrategy(ctx, slot, points, preset.Delay)
		if err != nil {
			return err
		}
		printf(c, "%s\n", req)
		return nil
	})
}

func parseSlot(s string) (uint8, error) {
	if s == "" {
		return 0, errors.New("missing SLOT argument")
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n >= leia.MaxTriggerStrategies {
		return 0, fmt.Errorf("slot must be 0..%d, got %q", leia.MaxTriggerStrategies-1, s)
	}
	return uint8(n), nil
}

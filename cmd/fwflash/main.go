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

// Command fwflash writes an application image to a device running the
// serial bootloader.
//
// Usage:
//
//	fwflash [flags] <image.bin>
//
// The image is the combined bootloader and application binary; the first
// -bootloader-size bytes are skipped, and an image with nothing after them
// is rejected. Without -device the port is
// auto-detected, and FWFLASH_DEVICE is used when set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ZaparooProject/go-fwflash"
	"github.com/ZaparooProject/go-fwflash/detection"
	_ "github.com/ZaparooProject/go-fwflash/detection/uart"
	"github.com/ZaparooProject/go-fwflash/transport/uart"
	"github.com/ZaparooProject/go-fwflash/update"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

type config struct {
	devicePath      string
	imagePath       string
	logDir          string
	baud            int
	bootloaderSize  int
	retries         int
	timeout         time.Duration
	readyTimeout    time.Duration
	deviceID        byte
	resendOnRetx    bool
	awaitCompletion bool
	debug           bool
	noProgress      bool
	list            bool
}

// portChannel is a channel the command opens and must close.
type portChannel interface {
	fwflash.Channel
	Close() error
}

type channelOpener func(ctx context.Context, path string, baud int) (portChannel, error)

func openUART(ctx context.Context, path string, baud int) (portChannel, error) {
	return uart.Open(ctx, path, baud)
}

type detectFunc func(ctx context.Context) ([]detection.DeviceInfo, error)

func detectPorts(ctx context.Context) ([]detection.DeviceInfo, error) {
	opts := detection.DefaultOptions()
	opts.Transports = []string{"uart"}
	return detection.DetectAll(ctx, &opts)
}

// parseConfig parses args (without the program name). The device falls
// back to the FWFLASH_DEVICE environment variable.
func parseConfig(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("fwflash", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &config{}
	var deviceID, bootloaderSize string
	fs.StringVar(&cfg.devicePath, "device", os.Getenv("FWFLASH_DEVICE"), "Serial port (auto-detect if empty)")
	fs.IntVar(&cfg.baud, "baud", uart.DefaultBaudRate, "Baud rate")
	fs.StringVar(&deviceID, "device-id", "0x69", "Device ID answered to device_id_req")
	fs.StringVar(&bootloaderSize, "bootloader-size", "0x10000", "Bytes at the start of the image that are not sent")
	fs.DurationVar(&cfg.timeout, "timeout", fwflash.DefaultReceiveTimeout, "Timeout for each handshake packet and ack")
	fs.DurationVar(&cfg.readyTimeout, "ready-timeout", fwflash.ReadyForFirmwareTimeout,
		"Timeout for the device to request each chunk")
	fs.IntVar(&cfg.retries, "retries", fwflash.DefaultCRCRetries, "Corrupt packets tolerated in a row")
	fs.BoolVar(&cfg.resendOnRetx, "resend-on-retx", false, "Resend a packet the device answers with retx")
	fs.BoolVar(&cfg.awaitCompletion, "await-completion", false, "Wait for fw_update_successful after the transfer")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.StringVar(&cfg.logDir, "log", "", "Write a session log into this directory")
	fs.BoolVar(&cfg.noProgress, "no-progress", false, "Disable the progress bar")
	fs.BoolVar(&cfg.list, "list", false, "List candidate serial ports and exit")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: fwflash [flags] <image.bin>")
		_, _ = fmt.Fprintln(stderr, "The image must be larger than -bootloader-size; there is no empty update.")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}

	id, err := strconv.ParseUint(deviceID, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid -device-id %q: %w", deviceID, err)
	}
	cfg.deviceID = byte(id)

	size, err := strconv.ParseUint(bootloaderSize, 0, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid -bootloader-size %q: %w", bootloaderSize, err)
	}
	cfg.bootloaderSize = int(size)

	if cfg.retries < 0 {
		return nil, fmt.Errorf("invalid -retries %d", cfg.retries)
	}

	if cfg.list {
		return cfg, nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errUsage
	}
	cfg.imagePath = fs.Arg(0)
	return cfg, nil
}

func listPorts(ctx context.Context, detect detectFunc, stdout io.Writer) error {
	devices, err := detect(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		_, _ = fmt.Fprintln(stdout, d.String())
	}
	return nil
}

func resolveDevice(ctx context.Context, cfg *config, detect detectFunc, stdout io.Writer) (string, error) {
	if cfg.devicePath != "" {
		return cfg.devicePath, nil
	}

	devices, err := detect(ctx)
	if err != nil {
		return "", fmt.Errorf("auto-detect failed: %w", err)
	}
	device, err := detection.Select(devices)
	if err != nil {
		return "", fmt.Errorf("auto-detect failed (use -device): %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "Using %s\n", device)
	return device.Path, nil
}

func newProgressBar(total int, stderr io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(stderr) }),
	)
}

func sessionOptions(cfg *config, port string) []update.Option {
	return []update.Option{
		update.WithPort(port),
		update.WithDeviceID(cfg.deviceID),
		update.WithBootloaderSize(cfg.bootloaderSize),
		update.WithReceiveTimeout(cfg.timeout),
		update.WithReadyTimeout(cfg.readyTimeout),
		update.WithCRCRetries(cfg.retries),
		update.WithResendOnRetx(cfg.resendOnRetx),
		update.WithAwaitCompletion(cfg.awaitCompletion),
	}
}

func flash(ctx context.Context, cfg *config, open channelOpener, detect detectFunc, stdout, stderr io.Writer) error {
	raw, err := os.ReadFile(cfg.imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	img, err := fwflash.NewImage(raw, cfg.bootloaderSize)
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.imagePath, err)
	}

	port, err := resolveDevice(ctx, cfg, detect, stdout)
	if err != nil {
		return err
	}

	ch, err := open(ctx, port, cfg.baud)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to close %s: %v\n", port, closeErr)
		}
	}()

	opts := sessionOptions(cfg, port)
	if !cfg.noProgress {
		bar := newProgressBar(img.AppSize(), stderr)
		opts = append(opts, update.WithProgressCallback(func(p update.Progress) {
			if p.Stage == update.StageTransfer {
				_ = bar.Set(p.BytesSent)
			}
		}))
	}

	session, err := update.NewSession(ch, raw, opts...)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Flashing %s (%d bytes) to %s\n", cfg.imagePath, img.AppSize(), port)
	start := time.Now()
	if err := session.Run(ctx); err != nil {
		if cfg.debug {
			_, _ = fmt.Fprintln(stderr, session.Stats().String())
		}
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Firmware update complete: %d bytes in %v\n",
		session.BytesSent(), time.Since(start).Round(time.Millisecond))
	if cfg.debug {
		_, _ = fmt.Fprintln(stdout, session.Stats().String())
	}
	return nil
}

func run(ctx context.Context, cfg *config, open channelOpener, detect detectFunc, stdout, stderr io.Writer) error {
	if cfg.debug {
		fwflash.SetDebugEnabled(true)
	}
	if cfg.logDir != "" {
		path, err := fwflash.InitSessionLog(cfg.logDir)
		if err != nil {
			return err
		}
		defer func() { _ = fwflash.CloseSessionLog() }()
		_, _ = fmt.Fprintf(stdout, "Session log: %s\n", path)
	}

	if cfg.list {
		return listPorts(ctx, detect, stdout)
	}
	return flash(ctx, cfg, open, detect, stdout, stderr)
}

// reportError prints err and, when debugging, the wire trace attached to it.
func reportError(err error, debug bool, stderr io.Writer) {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	switch {
	case errors.Is(err, fwflash.ErrDeviceAborted):
		_, _ = fmt.Fprintln(stderr, "The device aborted the update; check -device-id and the image size.")
	case fwflash.IsFatal(err):
		_, _ = fmt.Fprintln(stderr, "Lost the serial port; replug the device and restart it in bootloader mode.")
	}
	if debug && fwflash.HasTrace(err) {
		_, _ = fmt.Fprintln(stderr, fwflash.GetTrace(err).FormatTrace())
	}
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, errUsage) {
		return exitUsage
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			_, _ = fmt.Fprint(stderr, "\nCancelling update...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, openUART, detectPorts, stdout, stderr); err != nil {
		if errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintln(stderr, "Update cancelled; the device stays in its bootloader.")
		}
		reportError(err, cfg.debug, stderr)
		return exitError
	}
	return exitOK
}

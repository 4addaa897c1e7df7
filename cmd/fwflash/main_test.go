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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-fwflash"
	"github.com/ZaparooProject/go-fwflash/detection"
	virt "github.com/ZaparooProject/go-fwflash/internal/testing"
	"github.com/ZaparooProject/go-fwflash/update"
)

type deviceChannel struct {
	*virt.VirtualBootloader
	closed bool
}

func (d *deviceChannel) Close() error {
	d.closed = true
	return nil
}

func openerFor(dev *deviceChannel, gotPath *string) channelOpener {
	return func(_ context.Context, path string, _ int) (portChannel, error) {
		*gotPath = path
		return dev, nil
	}
}

func detectReturning(devices ...detection.DeviceInfo) detectFunc {
	return func(context.Context) ([]detection.DeviceInfo, error) {
		if len(devices) == 0 {
			return nil, detection.ErrNoDevicesFound
		}
		return devices, nil
	}
}

func writeImage(t *testing.T, bootloaderSize, appSize int) (path string, app []byte) {
	t.Helper()

	raw := make([]byte, bootloaderSize+appSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	path = filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path, raw[bootloaderSize:]
}

func testConfig(image string) *config {
	return &config{
		imagePath:      image,
		devicePath:     "/dev/ttyACM0",
		bootloaderSize: 32,
		deviceID:       0x69,
		retries:        fwflash.DefaultCRCRetries,
		timeout:        500 * time.Millisecond,
		readyTimeout:   500 * time.Millisecond,
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check   func(t *testing.T, cfg *config)
		wantErr error
		name    string
		args    []string
	}{
		{
			name: "defaults",
			args: []string{"fw.bin"},
			check: func(t *testing.T, cfg *config) {
				assert.Equal(t, "fw.bin", cfg.imagePath)
				assert.Equal(t, byte(0x69), cfg.deviceID)
				assert.Equal(t, 0x10000, cfg.bootloaderSize)
				assert.Equal(t, 115200, cfg.baud)
				assert.Equal(t, 2*time.Second, cfg.timeout)
				assert.Equal(t, 15*time.Second, cfg.readyTimeout)
				assert.Equal(t, 5, cfg.retries)
				assert.False(t, cfg.resendOnRetx)
			},
		},
		{
			name: "all flags",
			args: []string{
				"-device", "COM5", "-baud", "57600", "-device-id", "0x42",
				"-bootloader-size", "32768", "-timeout", "1s", "-ready-timeout", "20s",
				"-retries", "3", "-resend-on-retx", "-await-completion", "-no-progress", "app.bin",
			},
			check: func(t *testing.T, cfg *config) {
				assert.Equal(t, "COM5", cfg.devicePath)
				assert.Equal(t, 57600, cfg.baud)
				assert.Equal(t, byte(0x42), cfg.deviceID)
				assert.Equal(t, 32768, cfg.bootloaderSize)
				assert.Equal(t, time.Second, cfg.timeout)
				assert.Equal(t, 20*time.Second, cfg.readyTimeout)
				assert.Equal(t, 3, cfg.retries)
				assert.True(t, cfg.resendOnRetx)
				assert.True(t, cfg.awaitCompletion)
				assert.True(t, cfg.noProgress)
			},
		},
		{
			name: "zero retries reaches the session",
			args: []string{"-retries", "0", "fw.bin"},
			check: func(t *testing.T, cfg *config) {
				assert.Zero(t, cfg.retries)
				c := update.DefaultConfig()
				for _, opt := range sessionOptions(cfg, "ttyUSB0") {
					opt(c)
				}
				assert.Zero(t, c.CRCRetries)
			},
		},
		{
			name:  "list needs no image",
			args:  []string{"-list"},
			check: func(t *testing.T, cfg *config) { assert.True(t, cfg.list) },
		},
		{name: "missing image", args: nil, wantErr: errUsage},
		{name: "two images", args: []string{"a.bin", "b.bin"}, wantErr: errUsage},
		{name: "unknown flag", args: []string{"-frobnicate", "a.bin"}, wantErr: errUsage},
		{name: "device id too large", args: []string{"-device-id", "0x100", "a.bin"}},
		{name: "bad bootloader size", args: []string{"-bootloader-size", "big", "a.bin"}},
		{name: "negative retries", args: []string{"-retries", "-1", "a.bin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var stderr bytes.Buffer
			cfg, err := parseConfig(tt.args, &stderr)
			if tt.check == nil {
				require.Error(t, err)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseConfig_DeviceFromEnv(t *testing.T) {
	t.Setenv("FWFLASH_DEVICE", "/dev/ttyUSB3")

	cfg, err := parseConfig([]string{"fw.bin"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.devicePath)

	cfg, err = parseConfig([]string{"-device", "/dev/ttyACM1", "fw.bin"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", cfg.devicePath)
}

func TestFlash(t *testing.T) {
	t.Parallel()

	image, app := writeImage(t, 32, 50)
	dev := &deviceChannel{VirtualBootloader: virt.NewVirtualBootloader()}
	var port string
	var stdout, stderr bytes.Buffer

	err := flash(context.Background(), testConfig(image), openerFor(dev, &port), detectReturning(), &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", port)
	assert.Equal(t, app, dev.Flash())
	assert.True(t, dev.closed)
	assert.Contains(t, stdout.String(), "Firmware update complete: 50 bytes")
	assert.Contains(t, stdout.String(), "Flashing "+image+" (50 bytes) to /dev/ttyACM0")
}

func TestFlash_AutoDetect(t *testing.T) {
	t.Parallel()

	image, _ := writeImage(t, 32, 4)
	cfg := testConfig(image)
	cfg.devicePath = ""
	cfg.noProgress = true

	dev := &deviceChannel{VirtualBootloader: virt.NewVirtualBootloader()}
	var port string
	var stdout bytes.Buffer
	detect := detectReturning(
		detection.DeviceInfo{Transport: "uart", Path: "/dev/ttyS0", Confidence: detection.Low},
		detection.DeviceInfo{Transport: "uart", Path: "/dev/ttyUSB0", Confidence: detection.Medium},
	)

	require.NoError(t, flash(context.Background(), cfg, openerFor(dev, &port), detect, &stdout, &bytes.Buffer{}))
	assert.Equal(t, "/dev/ttyUSB0", port)
	assert.Contains(t, stdout.String(), "Using uart device at /dev/ttyUSB0")
}

func TestFlash_AutoDetectAmbiguous(t *testing.T) {
	t.Parallel()

	image, _ := writeImage(t, 32, 4)
	cfg := testConfig(image)
	cfg.devicePath = ""

	opened := false
	open := func(context.Context, string, int) (portChannel, error) {
		opened = true
		return nil, errors.New("must not open")
	}
	detect := detectReturning(
		detection.DeviceInfo{Path: "/dev/ttyUSB0", Confidence: detection.Medium},
		detection.DeviceInfo{Path: "/dev/ttyUSB1", Confidence: detection.Medium},
	)

	err := flash(context.Background(), cfg, open, detect, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, detection.ErrMultipleDevices)
	assert.False(t, opened)
}

func TestFlash_BadImage(t *testing.T) {
	t.Parallel()

	image, _ := writeImage(t, 16, 0)
	cfg := testConfig(image)
	cfg.bootloaderSize = 16

	err := flash(context.Background(), cfg, nil, nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, fwflash.ErrImageTooSmall)

	cfg.imagePath = filepath.Join(t.TempDir(), "missing.bin")
	err = flash(context.Background(), cfg, nil, nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFlash_DeviceAborts(t *testing.T) {
	t.Parallel()

	image, _ := writeImage(t, 32, 20)
	cfg := testConfig(image)
	cfg.deviceID = 0x01
	cfg.noProgress = true

	dev := &deviceChannel{VirtualBootloader: virt.NewVirtualBootloader()}
	var port string
	err := flash(context.Background(), cfg, openerFor(dev, &port), nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, fwflash.ErrDeviceAborted)
	assert.True(t, dev.closed)

	var stderr bytes.Buffer
	reportError(err, true, &stderr)
	assert.Contains(t, stderr.String(), "Error: ")
	assert.Contains(t, stderr.String(), "check -device-id")
	assert.Contains(t, stderr.String(), "Wire trace")

	stderr.Reset()
	reportError(err, false, &stderr)
	assert.NotContains(t, stderr.String(), "Wire trace")
}

type unpluggedPort struct {
	*fwflash.MockChannel
}

func (unpluggedPort) Close() error { return nil }

func TestFlash_PortLost(t *testing.T) {
	t.Parallel()

	image, _ := writeImage(t, 32, 20)
	cfg := testConfig(image)
	cfg.noProgress = true

	ch := fwflash.NewMockChannel()
	ch.SetWriteError(syscall.EIO)
	open := func(context.Context, string, int) (portChannel, error) {
		return unpluggedPort{ch}, nil
	}

	err := flash(context.Background(), cfg, open, nil, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, syscall.EIO)
	require.True(t, fwflash.IsFatal(err))

	var stderr bytes.Buffer
	reportError(err, false, &stderr)
	assert.Contains(t, stderr.String(), "replug the device")
	assert.NotContains(t, stderr.String(), "check -device-id")
}

func TestRun_List(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	cfg := &config{list: true}
	detect := detectReturning(detection.DeviceInfo{Transport: "uart", Path: "COM3", Confidence: detection.Medium})

	require.NoError(t, run(context.Background(), cfg, nil, detect, &stdout, &bytes.Buffer{}))
	assert.Equal(t, "uart device at COM3 (confidence: medium)\n", stdout.String())

	err := run(context.Background(), cfg, nil, detectReturning(), &stdout, &bytes.Buffer{})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestMainWithExitCode_Usage(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	assert.Equal(t, exitUsage, mainWithExitCode(nil, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "Usage: fwflash")
	assert.Contains(t, stderr.String(), "must be larger than -bootloader-size")

	assert.Equal(t, exitUsage, mainWithExitCode([]string{"-device-id", "nope", "a.bin"}, &bytes.Buffer{}, &stderr))
}

func TestMainWithExitCode_MissingImage(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "missing.bin")
	var stderr bytes.Buffer
	code := mainWithExitCode([]string{"-device", "/dev/null", missing}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "failed to read image")
}

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

package uart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-fwflash/detection"
)

func fixedPorts(ports ...serialPort) func(context.Context) ([]serialPort, error) {
	return func(context.Context) ([]serialPort, error) {
		return ports, nil
	}
}

func TestDetect_RatesPorts(t *testing.T) {
	t.Parallel()

	det := &detector{enumerate: fixedPorts(
		serialPort{Path: "/dev/ttyS0", Name: "ttyS0"},
		serialPort{Path: "/dev/ttyUSB0", Name: "ttyUSB0", VIDPID: "10C4:EA60", Product: "CP2102 USB to UART Bridge Controller"},
		serialPort{Path: "/dev/ttyACM0", Name: "ttyACM0", VIDPID: "CAFE:4011", SerialNumber: "A1B2"},
		serialPort{Path: "/dev/ttyACM1", Name: "ttyACM1", VIDPID: "1366:0105"},
	)}

	opts := &detection.Options{
		Blocklist: detection.DefaultBlocklist(),
		Preferred: []string{"cafe:4011"},
	}
	devices, err := det.Detect(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, devices, 3)

	byPath := make(map[string]detection.DeviceInfo)
	for _, d := range devices {
		byPath[d.Path] = d
	}
	assert.Equal(t, detection.Low, byPath["/dev/ttyS0"].Confidence)
	assert.Equal(t, detection.Medium, byPath["/dev/ttyUSB0"].Confidence)
	assert.Equal(t, detection.High, byPath["/dev/ttyACM0"].Confidence)
	assert.Equal(t, "A1B2", byPath["/dev/ttyACM0"].Metadata["serial"])
	assert.Equal(t, "10C4:EA60", byPath["/dev/ttyUSB0"].Metadata["vidpid"])
	assert.NotContains(t, byPath["/dev/ttyS0"].Metadata, "vidpid")

	best, err := detection.Select(devices)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", best.Path)
}

func TestDetect_IgnoredAndEmpty(t *testing.T) {
	t.Parallel()

	det := &detector{enumerate: fixedPorts(serialPort{Path: "COM3", Name: "COM3"})}
	_, err := det.Detect(context.Background(), &detection.Options{IgnorePaths: []string{"com3"}})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_EnumerationError(t *testing.T) {
	t.Parallel()

	errList := errors.New("no permission")
	det := &detector{enumerate: func(context.Context) ([]serialPort, error) {
		return nil, errList
	}}
	_, err := det.Detect(context.Background(), &detection.Options{})
	require.ErrorIs(t, err, errList)
}

func TestRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		port serialPort
		want detection.Confidence
	}{
		{name: "plain uart", port: serialPort{Path: "/dev/ttyS1", Name: "ttyS1"}, want: detection.Low},
		{name: "known bridge", port: serialPort{Path: "COM4", VIDPID: "1A86:7523"}, want: detection.Medium},
		{name: "macOS modem name", port: serialPort{Path: "/dev/cu.usbmodem1101", Name: "cu.usbmodem1101"}, want: detection.Medium},
		{name: "preferred", port: serialPort{Path: "COM9", VIDPID: "0483:5740"}, want: detection.High},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, rate(&tt.port, []string{"0483:5740"}))
		})
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "uart", New().Transport())
}

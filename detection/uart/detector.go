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

// Package uart detects serial ports. Importing it registers the detector
// with the detection package.
package uart

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-fwflash/detection"
)

// detector implements the Detector interface for serial ports.
type detector struct {
	enumerate func(context.Context) ([]serialPort, error)
}

// New creates a new serial port detector
func New() detection.Detector {
	return &detector{enumerate: getSerialPorts}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect lists serial ports and rates each one. Nothing is written to any
// port.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			break
		}
		port := &ports[i]
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		devices = append(devices, createDeviceInfo(port, rate(port, opts.Preferred)))
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// knownBridges are USB-serial chips and native USB CDC devices the
// bootloader is usually reached through.
var knownBridges = []string{
	"0483:5740", // STMicroelectronics virtual COM port
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
	"1A86:55D4", // QinHeng CH9102
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"067B:2303", // Prolific PL2303
	"2E8A:000A", // Raspberry Pi RP2040 CDC
}

var bridgeKeywords = []string{"ttyacm", "ttyusb", "usbserial", "usbmodem", "slab_usbtouart", "uart", "cdc"}

func rate(port *serialPort, preferred []string) detection.Confidence {
	if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, preferred) {
		return detection.High
	}
	if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, knownBridges) {
		return detection.Medium
	}

	text := strings.ToLower(port.Name + " " + port.Path + " " + port.Product + " " + port.Manufacturer)
	for _, kw := range bridgeKeywords {
		if strings.Contains(text, kw) {
			return detection.Medium
		}
	}
	return detection.Low
}

func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}

	for key, value := range map[string]string{
		"vidpid":       port.VIDPID,
		"manufacturer": port.Manufacturer,
		"product":      port.Product,
		"serial":       port.SerialNumber,
	} {
		if value != "" {
			device.Metadata[key] = value
		}
	}
	return device
}

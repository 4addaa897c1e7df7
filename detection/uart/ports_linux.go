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

//go:build linux

package uart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/go-fwflash/detection"
)

const sysTTY = "/sys/class/tty"

// getSerialPorts returns USB serial ports with their sysfs metadata
// followed by built-in UARTs.
func getSerialPorts(_ context.Context) ([]serialPort, error) {
	var ports []serialPort

	if usbPorts, err := usbSerialPorts(sysTTY); err == nil {
		ports = append(ports, usbPorts...)
	}
	ports = append(ports, globPorts("/dev/ttyS*", "/dev/ttyAMA*")...)

	if len(ports) == 0 {
		ports = globPorts("/dev/ttyUSB*", "/dev/ttyACM*")
	}
	return ports, nil
}

// usbSerialPorts lists tty entries whose device link resolves into the USB
// tree.
func usbSerialPorts(ttyDir string) ([]serialPort, error) {
	entries, err := os.ReadDir(ttyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", ttyDir, err)
	}

	var ports []serialPort
	for _, entry := range entries {
		resolved, err := filepath.EvalSymlinks(filepath.Join(ttyDir, entry.Name(), "device"))
		if err != nil || !strings.Contains(resolved, "/usb") {
			continue
		}

		port := serialPort{
			Path: "/dev/" + entry.Name(),
			Name: entry.Name(),
		}
		readUSBAttributes(&port, resolved)
		ports = append(ports, port)
	}
	return ports, nil
}

// readUSBAttributes walks up from the interface to the USB device node,
// which holds idVendor and idProduct.
func readUSBAttributes(port *serialPort, devicePath string) {
	current := devicePath
	for range 10 {
		if readUSBIdentifiers(port, current) {
			return
		}
		current = filepath.Dir(current)
		if current == "/" || current == "." {
			return
		}
	}
}

func readUSBIdentifiers(port *serialPort, path string) bool {
	vid, ok := readSysAttr(path, "idVendor")
	if !ok {
		return false
	}
	pid, ok := readSysAttr(path, "idProduct")
	if !ok {
		return false
	}

	port.VIDPID = detection.FormatVIDPID(vid, pid)
	port.Manufacturer, _ = readSysAttr(path, "manufacturer")
	port.Product, _ = readSysAttr(path, "product")
	port.SerialNumber, _ = readSysAttr(path, "serial")
	return true
}

// readSysAttr reads one sysfs attribute. Paths outside /sys are refused.
func readSysAttr(dir, name string) (string, bool) {
	if !strings.HasPrefix(filepath.Clean(dir), "/sys/") {
		return "", false
	}
	// #nosec G304 -- path is validated to be under /sys/
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func globPorts(patterns ...string) []serialPort {
	var ports []serialPort
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			if _, err := os.Stat(path); err == nil {
				ports = append(ports, serialPort{Path: path, Name: filepath.Base(path)})
			}
		}
	}
	return ports
}

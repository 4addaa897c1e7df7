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

package detection

import (
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB devices that expose a serial port but never
// carry the bootloader. Format: VID:PID in hexadecimal (case-insensitive).
func DefaultBlocklist() []string {
	return []string{
		"1366:0105", // SEGGER J-Link CDC UART, a debug probe
		"0D28:0204", // ARM DAPLink CMSIS-DAP, a debug probe
	}
}

// IsBlocked checks if a USB device is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}

	for _, blocked := range blocklist {
		if vidpid == strings.ToUpper(strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// FormatVIDPID builds the canonical "VVVV:PPPP" form from separate IDs as
// found in sysfs or port enumerators. Missing IDs yield "".
func FormatVIDPID(vid, pid string) string {
	vid = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(vid)), "0x")
	pid = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(pid)), "0x")
	if vid == "" || pid == "" {
		return ""
	}
	return strings.ToUpper(padHex(vid) + ":" + padHex(pid))
}

func padHex(s string) string {
	if len(s) >= 4 {
		return s
	}
	return strings.Repeat("0", 4-len(s)) + s
}

// IsPathIgnored checks if a device path should be ignored.
// Supports exact path matching and normalized path comparison.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if devicePath == ignorePath || normalizedDevice == normalizedPath(ignorePath) {
			return true
		}
	}
	return false
}

// normalizedPath cleans a path and lowercases it, since Windows port names
// are case-insensitive.
func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

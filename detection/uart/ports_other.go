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

//go:build !linux

package uart

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ZaparooProject/go-fwflash/detection"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// getSerialPorts asks the OS for its serial ports. USB details come from the
// detailed enumerator when the platform supports it.
func getSerialPorts(_ context.Context) ([]serialPort, error) {
	detailed, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]serialPort, 0, len(detailed))
		for _, p := range detailed {
			port := serialPort{Path: p.Name, Name: filepath.Base(p.Name)}
			if p.IsUSB {
				port.VIDPID = detection.FormatVIDPID(p.VID, p.PID)
				port.Product = p.Product
				port.SerialNumber = p.SerialNumber
			}
			ports = append(ports, port)
		}
		return ports, nil
	}

	names, listErr := serial.GetPortsList()
	if listErr != nil {
		return nil, fmt.Errorf("failed to list ports: %w", listErr)
	}
	ports := make([]serialPort, 0, len(names))
	for _, name := range names {
		ports = append(ports, serialPort{Path: name, Name: filepath.Base(name)})
	}
	return ports, nil
}

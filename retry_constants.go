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

package fwflash

import "time"

// Receive timing used by the bootloader protocol.
const (
	// DefaultReceiveTimeout bounds the wait for any frame, acks included.
	DefaultReceiveTimeout = 2 * time.Second
	// ReadyForFirmwareTimeout bounds the wait for the device to ask for the
	// next chunk. The device erases and programs flash in between.
	ReadyForFirmwareTimeout = 15 * time.Second
	// DefaultPollInterval is the sleep between Available checks.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultCRCRetries is the number of corrupt frames tolerated in a row.
	DefaultCRCRetries = 5
	// CancelCheckInterval caps a single blocking read so a cancelled
	// context is noticed during long waits.
	CancelCheckInterval = 100 * time.Millisecond
)

// Port open retry constants. A serial port can be briefly busy right after
// the device re-enumerates into its bootloader.
const (
	// PortOpenRetries is the number of attempts to open a serial port.
	PortOpenRetries = 5
	// PortOpenInitialBackoff is the initial delay between open attempts.
	PortOpenInitialBackoff = 100 * time.Millisecond
	// PortOpenMaxBackoff is the maximum delay between open attempts.
	PortOpenMaxBackoff = time.Second
	// PortOpenBackoffMultiplier is the exponential backoff multiplier.
	PortOpenBackoffMultiplier = 2.0
	// PortOpenJitter is the random jitter factor (0.0-1.0).
	PortOpenJitter = 0.1
	// PortOpenRetryTimeout is the overall timeout for all open attempts.
	PortOpenRetryTimeout = 5 * time.Second
)

// PortOpenRetryConfig returns the retry policy used when opening a port.
func PortOpenRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       PortOpenRetries,
		InitialBackoff:    PortOpenInitialBackoff,
		MaxBackoff:        PortOpenMaxBackoff,
		BackoffMultiplier: PortOpenBackoffMultiplier,
		Jitter:            PortOpenJitter,
		RetryTimeout:      PortOpenRetryTimeout,
	}
}

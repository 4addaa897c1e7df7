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

package update

import (
	"time"

	"github.com/ZaparooProject/go-fwflash"
	"github.com/ZaparooProject/go-fwflash/internal/frame"
)

// DefaultDeviceID is the identifier the reference bootloader expects.
const DefaultDeviceID byte = 0x69

// Config holds session options. Build it with DefaultConfig and Options.
type Config struct {
	// ProgressCallback is called on every stage change and after every
	// chunk (optional)
	ProgressCallback ProgressCallback
	// Port names the link in errors and traces
	Port string
	// SyncSequence is written raw before the handshake starts
	SyncSequence []byte
	// BootloaderSize is the number of leading image bytes not sent
	BootloaderSize int
	// ReceiveTimeout bounds every handshake receive and ack wait
	ReceiveTimeout time.Duration
	// ReadyTimeout bounds the wait for ready_for_firmware
	ReadyTimeout time.Duration
	// PollInterval is used for channels without a timed read
	PollInterval time.Duration
	// CRCRetries is the number of corrupt frames tolerated in a row
	CRCRetries int
	// DeviceID is sent in device_id_res
	DeviceID byte
	// ResendOnRetx resends a frame the device answered with retx
	ResendOnRetx bool
	// AwaitCompletion waits for fw_update_successful after the transfer
	AwaitCompletion bool
}

// DefaultConfig returns the settings of the reference deployment.
func DefaultConfig() *Config {
	return &Config{
		SyncSequence:   append([]byte(nil), frame.SyncSequence...),
		BootloaderSize: fwflash.DefaultBootloaderSize,
		ReceiveTimeout: fwflash.DefaultReceiveTimeout,
		ReadyTimeout:   fwflash.ReadyForFirmwareTimeout,
		PollInterval:   fwflash.DefaultPollInterval,
		CRCRetries:     fwflash.DefaultCRCRetries,
		DeviceID:       DefaultDeviceID,
	}
}

// TransportConfig derives the packet transport settings.
func (c *Config) TransportConfig() *fwflash.TransportConfig {
	return &fwflash.TransportConfig{
		Port:           c.Port,
		ReceiveTimeout: c.ReceiveTimeout,
		PollInterval:   c.PollInterval,
		CRCRetries:     c.CRCRetries,
		ResendOnRetx:   c.ResendOnRetx,
	}
}

// Option configures a Session.
type Option func(*Config)

// WithDeviceID sets the identifier answered to device_id_req.
func WithDeviceID(id byte) Option {
	return func(c *Config) {
		c.DeviceID = id
	}
}

// WithBootloaderSize sets how many leading image bytes are skipped.
func WithBootloaderSize(size int) Option {
	return func(c *Config) {
		c.BootloaderSize = size
	}
}

// WithReceiveTimeout sets the timeout of handshake receives and ack waits.
func WithReceiveTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReceiveTimeout = timeout
		}
	}
}

// WithReadyTimeout sets how long to wait for the device to request each
// chunk.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadyTimeout = timeout
		}
	}
}

// WithPollInterval sets the poll interval for channels without timed reads.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.PollInterval = interval
		}
	}
}

// WithCRCRetries sets the number of corrupt frames tolerated in a row.
// Zero aborts on the first corrupt frame; negative values are ignored.
func WithCRCRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.CRCRetries = retries
		}
	}
}

// WithResendOnRetx makes a retx answer to a sent frame trigger a resend
// instead of failing the update.
func WithResendOnRetx(resend bool) Option {
	return func(c *Config) {
		c.ResendOnRetx = resend
	}
}

// WithAwaitCompletion waits for fw_update_successful after the last chunk.
func WithAwaitCompletion(wait bool) Option {
	return func(c *Config) {
		c.AwaitCompletion = wait
	}
}

// WithSyncSequence replaces the raw sync sequence.
func WithSyncSequence(seq []byte) Option {
	return func(c *Config) {
		c.SyncSequence = append([]byte(nil), seq...)
	}
}

// WithPort names the link in errors and traces.
func WithPort(port string) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithProgressCallback sets a callback to track the update.
//
//	s, err := update.NewSession(ch, raw,
//	    update.WithProgressCallback(func(p update.Progress) {
//	        fmt.Printf("[%s] %.1f%%\n", p.Stage, p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

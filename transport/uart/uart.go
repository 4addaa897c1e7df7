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

// Package uart provides a serial port channel for the bootloader link.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-fwflash"
	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the bootloader listens at.
const DefaultBaudRate = 115200

// pollTimeout is the read timeout used to check for pending bytes.
const pollTimeout = time.Millisecond

// Channel is a fwflash.Channel over a serial port. Reads use the port's read
// timeout, so it also implements fwflash.TimedReader and the transport never
// has to poll it. Bytes read ahead of a request are kept for the next one.
type Channel struct {
	port        serial.Port
	portName    string
	pending     []byte
	readTimeout time.Duration
	mu          syncutil.Mutex
	closed      bool
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readSlice is the longest single blocking read. Windows drivers need the
// longer value to return partial data reliably.
func readSlice() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens portName at DefaultBaudRate.
func New(portName string) (*Channel, error) {
	return Open(context.Background(), portName, DefaultBaudRate)
}

// Open opens portName as 8N1 at baud. A port that is busy, as it often is
// right after the device re-enumerates into its bootloader, is retried with
// fwflash.PortOpenRetryConfig.
func Open(ctx context.Context, portName string, baud int) (*Channel, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	var port serial.Port
	err := fwflash.RetryWithConfig(ctx, fwflash.PortOpenRetryConfig(), func() error {
		p, openErr := serial.Open(portName, mode)
		if openErr != nil {
			return classifyOpenError(portName, openErr)
		}
		port = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	fwflash.Debugf("opened %s at %d baud", portName, baud)
	return NewFromPort(port, portName), nil
}

// NewFromPort wraps an already open port.
func NewFromPort(port serial.Port, portName string) *Channel {
	return &Channel{port: port, portName: portName}
}

func classifyOpenError(portName string, err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.PortBusy:
			return fwflash.NewTransportError("open", portName, err, fwflash.ErrorTypeTransient)
		case serial.PortNotFound:
			return fwflash.NewTransportError("open", portName,
				fmt.Errorf("%w: %w", fwflash.ErrDeviceNotFound, err), fwflash.ErrorTypePermanent)
		default:
		}
	}
	return fwflash.NewTransportError("open", portName, err, fwflash.ErrorTypePermanent)
}

// Name returns the port name.
func (c *Channel) Name() string {
	return c.portName
}

// Available reads whatever the port has ready without blocking for long and
// reports the number of buffered bytes.
func (c *Channel) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fwflash.ErrTransportClosed
	}
	if _, err := c.readChunk(pollTimeout); err != nil {
		return 0, err
	}
	return len(c.pending), nil
}

// ReadFull reads len(buf) bytes that are already buffered or arrive within
// one read slice.
func (c *Channel) ReadFull(buf []byte) error {
	return c.ReadFullTimeout(buf, readSlice())
}

// ReadFullTimeout reads len(buf) bytes, waiting up to timeout for them. On
// timeout the bytes received so far stay buffered and an error matching
// fwflash.ErrReceiveTimeout is returned.
func (c *Channel) ReadFullTimeout(buf []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fwflash.ErrTransportClosed
	}

	deadline := time.Now().Add(timeout)
	for len(c.pending) < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: have %d of %d bytes after %v",
				fwflash.ErrReceiveTimeout, len(c.pending), len(buf), timeout)
		}
		if _, err := c.readChunk(min(remaining, readSlice())); err != nil {
			return err
		}
	}

	copy(buf, c.pending)
	c.pending = c.pending[len(buf):]
	return nil
}

// readChunk performs one read with the given timeout and appends the result
// to pending. Must be called with mu held.
func (c *Channel) readChunk(timeout time.Duration) (int, error) {
	if err := c.setReadTimeout(timeout); err != nil {
		return 0, err
	}

	var chunk [256]byte
	for attempt := 0; ; attempt++ {
		n, err := c.port.Read(chunk[:])
		c.pending = append(c.pending, chunk[:n]...)
		if err == nil {
			return n, nil
		}
		if isInterruptedSystemCall(err) && attempt < 2 {
			continue
		}
		return n, fmt.Errorf("UART read failed: %w", err)
	}
}

func (c *Channel) setReadTimeout(timeout time.Duration) error {
	if timeout == c.readTimeout {
		return nil
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	c.readTimeout = timeout
	return nil
}

// Write writes b and waits until it has been transmitted.
func (c *Channel) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fwflash.ErrTransportClosed
	}

	written := 0
	for written < len(b) {
		n, err := c.port.Write(b[written:])
		written += n
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return written, fmt.Errorf("UART write failed: %w", err)
		}
		if n == 0 {
			return written, fmt.Errorf("UART write stalled after %d of %d bytes", written, len(b))
		}
	}

	return written, c.drainWithRetry()
}

// ResetInput drops buffered bytes and the port's input buffer.
func (c *Channel) ResetInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fwflash.ErrTransportClosed
	}
	c.pending = nil
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("UART reset input failed: %w", err)
	}
	return nil
}

// Close closes the port. Closing twice is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// isInterruptedSystemCall reports whether err is EINTR.
func isInterruptedSystemCall(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (c *Channel) drainWithRetry() error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := c.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) || attempt == maxRetries-1 {
			return fmt.Errorf("UART drain failed: %w", err)
		}
		time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
	}
	return nil
}

var (
	_ fwflash.Channel       = (*Channel)(nil)
	_ fwflash.TimedReader   = (*Channel)(nil)
	_ fwflash.InputResetter = (*Channel)(nil)
)

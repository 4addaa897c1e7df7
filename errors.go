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

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Codec and transport errors
var (
	ErrOversizedPayload = errors.New("payload exceeds packet data size")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrReceiveTimeout   = errors.New("timed out waiting for packet")
	// ErrRetryBudgetExhausted is returned after too many consecutive corrupt
	// frames. It also matches ErrChecksumMismatch.
	ErrRetryBudgetExhausted = fmt.Errorf("receive retry budget exhausted: %w", ErrChecksumMismatch)
	ErrUnexpectedPacketType = errors.New("unexpected packet type")
	ErrAckNotReceived       = errors.New("ack not received")
	ErrChannelIO            = errors.New("channel i/o failed")
	ErrTransportClosed      = errors.New("transport is closed")
)

// Session and image errors
var (
	// ErrDeviceAborted means the bootloader sent fw_update_aborted.
	ErrDeviceAborted      = errors.New("device aborted the update")
	ErrImageTooSmall      = errors.New("image is not larger than the bootloader region")
	ErrImageTooLarge      = errors.New("application does not fit in a 32-bit length")
	ErrBootloaderTooLarge = errors.New("bootloader image exceeds the bootloader region")
	ErrDeviceNotFound     = errors.New("device not found")
)

// UnexpectedPacketTypeError reports a valid packet of the wrong type.
type UnexpectedPacketTypeError struct {
	Expected PacketType
	Got      PacketType
}

func (e *UnexpectedPacketTypeError) Error() string {
	return fmt.Sprintf("%v: expected %s, got %s", ErrUnexpectedPacketType, e.Expected, e.Got)
}

// Is lets errors.Is match ErrUnexpectedPacketType, and ErrDeviceAborted
// when the device sent fw_update_aborted in place of the expected packet.
func (e *UnexpectedPacketTypeError) Is(target error) bool {
	if target == ErrUnexpectedPacketType {
		return true
	}
	return target == ErrDeviceAborted && e.Got == PacketTypeFWUpdateAborted
}

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps channel-level errors with the failing operation.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error; transient and timeout errors
// are marked retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewChannelIOError wraps a failed read or write on the underlying channel.
// The protocol never retries these, so the error is permanent.
func NewChannelIOError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrChannelIO, cause), ErrorTypePermanent)
}

// NewTimeoutError creates a receive timeout error
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrReceiveTimeout, ErrorTypeTimeout)
}

// IsRetryable reports whether an operation that failed with err could be
// attempted again, for example opening a port that is briefly busy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	return errors.Is(err, ErrReceiveTimeout)
}

// IsFatal reports whether err means the device or port is gone.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB serial
// adapter is unplugged mid-transfer.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // only device-gone values matter
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // only device-gone values matter
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the device
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the device
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	ts := e.Timestamp.Format("15:04:05.000")
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", ts, e.Direction, formatHexBytes(e.Data), e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, e.Direction, formatHexBytes(e.Data))
}

// TraceableError carries the most recent wire traffic alongside an error.
//
//	var te *fwflash.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Port  string
	Trace []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns the trace one frame per line, oldest first.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}
	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	const maxShown = 32
	shown := data
	if len(data) > maxShown {
		shown = data[:maxShown]
	}
	parts := make([]string, len(shown))
	for i, b := range shown {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	out := strings.Join(parts, " ")
	if len(data) > maxShown {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

// TraceBuffer keeps the last few frames exchanged on a port.
type TraceBuffer struct {
	port    string
	entries []TraceEntry
	maxSize int
}

// DefaultTraceSize is the number of frames a TraceBuffer keeps by default.
const DefaultTraceSize = 16

// NewTraceBuffer creates a trace buffer holding at most maxSize entries.
func NewTraceBuffer(port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = DefaultTraceSize
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		port:    port,
	}
}

// RecordTX records bytes written to the device
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes read from the device
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a receive timeout
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
		return
	}
	tb.entries = append(tb.entries, entry)
}

// Entries returns a copy of the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	out := make([]TraceEntry, len(tb.entries))
	copy(out, tb.entries)
	return out
}

// WrapError attaches the recorded trace to err. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:   err,
		Trace: tb.Entries(),
		Port:  tb.port,
	}
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

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
	"time"

	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

// Channel is the byte-oriented link to the bootloader, typically a serial
// port. Implementations need not be safe for concurrent use; a Transport
// owns its channel exclusively.
type Channel interface {
	// Available returns the number of bytes that can be read without blocking.
	Available() (int, error)
	// ReadFull reads exactly len(buf) bytes.
	ReadFull(buf []byte) error
	// Write writes b to the link.
	Write(b []byte) (int, error)
}

// TimedReader is implemented by channels that can block on a read with a
// deadline. A Transport prefers it over polling Available.
type TimedReader interface {
	// ReadFullTimeout reads exactly len(buf) bytes or returns an error
	// matching ErrReceiveTimeout once timeout elapses.
	ReadFullTimeout(buf []byte, timeout time.Duration) error
}

// InputResetter is implemented by channels that can discard unread input.
type InputResetter interface {
	ResetInput() error
}

// MockChannel is an in-memory Channel for tests. Bytes queued with Feed are
// returned by reads; everything written is recorded.
type MockChannel struct {
	readErr   error
	writeErr  error
	onWrite   func([]byte)
	rx        []byte
	tx        []byte
	readCalls int
	mu        syncutil.Mutex
}

// NewMockChannel creates an empty mock channel
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

// Feed appends bytes for subsequent reads.
func (m *MockChannel) Feed(b ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range b {
		m.rx = append(m.rx, chunk...)
	}
}

// FeedPacket appends an encoded packet for subsequent reads.
func (m *MockChannel) FeedPacket(p *Packet) {
	enc := p.Encode()
	m.Feed(enc[:])
}

// OnWrite registers a hook called with every write, after it is recorded.
// Tests use it to answer frames as they are sent.
func (m *MockChannel) OnWrite(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// SetReadError makes every later read fail with err.
func (m *MockChannel) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// SetWriteError makes every later write fail with err.
func (m *MockChannel) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Available implements Channel
func (m *MockChannel) Available() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	return len(m.rx), nil
}

// ReadFull implements Channel
func (m *MockChannel) ReadFull(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if m.readErr != nil {
		return m.readErr
	}
	if len(m.rx) < len(buf) {
		return fmt.Errorf("mock channel: want %d bytes, have %d: %w", len(buf), len(m.rx), io.ErrUnexpectedEOF)
	}
	copy(buf, m.rx)
	m.rx = m.rx[len(buf):]
	return nil
}

// Write implements Channel
func (m *MockChannel) Write(b []byte) (int, error) {
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	m.tx = append(m.tx, b...)
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), b...))
	}
	return len(b), nil
}

// ResetInput implements InputResetter
func (m *MockChannel) ResetInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = nil
	return nil
}

// Written returns a copy of every byte written so far.
func (m *MockChannel) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.tx...)
}

// WrittenPackets decodes the written bytes as consecutive frames, skipping
// skip leading raw bytes (the sync sequence, for instance).
func (m *MockChannel) WrittenPackets(skip int) ([]Packet, error) {
	raw := m.Written()
	if skip > len(raw) {
		return nil, errors.New("mock channel: skip beyond written data")
	}
	raw = raw[skip:]
	if len(raw)%PacketFrameSize != 0 {
		return nil, fmt.Errorf("mock channel: %d trailing bytes", len(raw)%PacketFrameSize)
	}

	packets := make([]Packet, 0, len(raw)/PacketFrameSize)
	for off := 0; off < len(raw); off += PacketFrameSize {
		var buf [PacketFrameSize]byte
		copy(buf[:], raw[off:])
		p, _ := DecodePacket(buf)
		packets = append(packets, p)
	}
	return packets, nil
}

// ReadCalls returns how many times ReadFull has been called.
func (m *MockChannel) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

var (
	_ Channel       = (*MockChannel)(nil)
	_ InputResetter = (*MockChannel)(nil)
)

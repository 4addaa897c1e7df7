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

package testing

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	StallAfterBytes  int
	StallDuration    time.Duration
	Seed             uint64
	FragmentReads    bool
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       2 * time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConnection wraps an io.ReadWriter to behave like a USB-UART bridge:
// reads arrive late and in random fragments, and may stall once after a
// given number of bytes. Writes pass through untouched.
type JitteryConnection struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	pending   []byte
	config    JitterConfig
	delivered int
	stalled   bool
}

// NewJitteryConnection wraps backend with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test code
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}

	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // test code
		pending: make([]byte, 0, 256),
	}
}

// Write passes writes through to the backend.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // pass-through
}

// Read returns at most len(buf) bytes, fewer when fragmenting. It returns
// 0, nil when the backend has nothing to give.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		chunk := make([]byte, 256)
		n, err := j.backend.Read(chunk)
		if err != nil {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, chunk[:n]...)
	}
	if len(j.pending) == 0 {
		return 0, nil
	}

	n := min(len(j.pending), len(buf))
	if j.config.StallAfterBytes > 0 && !j.stalled {
		if j.delivered >= j.config.StallAfterBytes {
			j.stalled = true
			time.Sleep(j.config.StallDuration)
		} else {
			n = min(n, j.config.StallAfterBytes-j.delivered)
		}
	}
	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.delivered += n
	return n, nil
}

// ErrStreamTimeout is returned by StreamChannel when a read deadline passes.
var ErrStreamTimeout = errors.New("stream read timed out")

// StreamChannel turns a non-blocking io.ReadWriter (a reader that returns
// 0, nil when idle) into a packet channel with deadline-aware reads.
// Bytes read ahead of a request are buffered.
type StreamChannel struct {
	rw       io.ReadWriter
	timeoutE error
	buf      []byte
	poll     time.Duration
	mu       syncutil.Mutex
}

// NewStreamChannel wraps rw. timeoutErr is returned (wrapped) when
// ReadFullTimeout gives up, so callers can plug in their own sentinel; nil
// selects ErrStreamTimeout.
func NewStreamChannel(rw io.ReadWriter, timeoutErr error) *StreamChannel {
	if timeoutErr == nil {
		timeoutErr = ErrStreamTimeout
	}
	return &StreamChannel{rw: rw, timeoutE: timeoutErr, poll: time.Millisecond}
}

// Available drains what the stream has ready and reports the buffered total.
func (s *StreamChannel) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fill(); err != nil {
		return 0, err
	}
	return len(s.buf), nil
}

// ReadFull reads len(p) bytes, failing if they are not already available.
func (s *StreamChannel) ReadFull(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fill(); err != nil {
		return err
	}
	if len(s.buf) < len(p) {
		return fmt.Errorf("want %d bytes, have %d: %w", len(p), len(s.buf), io.ErrUnexpectedEOF)
	}
	s.take(p)
	return nil
}

// ReadFullTimeout reads len(p) bytes, waiting up to timeout for them.
func (s *StreamChannel) ReadFullTimeout(p []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		err := s.fill()
		if err == nil && len(s.buf) >= len(p) {
			s.take(p)
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		if err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", s.timeoutE, timeout)
		}
		time.Sleep(s.poll)
	}
}

// Write writes to the stream.
func (s *StreamChannel) Write(p []byte) (int, error) {
	return s.rw.Write(p) //nolint:wrapcheck // pass-through
}

// ResetInput discards buffered and pending input.
func (s *StreamChannel) ResetInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fill(); err != nil {
		return err
	}
	s.buf = s.buf[:0]
	return nil
}

func (s *StreamChannel) fill() error {
	chunk := make([]byte, 64)
	for {
		n, err := s.rw.Read(chunk)
		s.buf = append(s.buf, chunk[:n]...)
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

func (s *StreamChannel) take(p []byte) {
	copy(p, s.buf)
	s.buf = s.buf[len(p):]
}

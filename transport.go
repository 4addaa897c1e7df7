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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

// TransportConfig tunes a Transport. Zero durations and sizes take their
// defaults.
type TransportConfig struct {
	// Port names the link in errors and traces.
	Port string
	// ReceiveTimeout bounds the wait for a frame when a caller does not
	// pass its own, and always bounds the wait for an ack.
	ReceiveTimeout time.Duration
	// PollInterval is the sleep between Available checks on channels
	// that cannot block with a deadline.
	PollInterval time.Duration
	// CRCRetries is the number of corrupt frames tolerated in a row
	// before a receive gives up, so a receive makes at most CRCRetries+1
	// reads. Zero fails on the first corrupt frame; a negative value
	// (UnsetCRCRetries) selects DefaultCRCRetries.
	CRCRetries int
	// TraceSize is the number of frames kept for error traces.
	TraceSize int
	// ResendOnRetx makes Send rewrite a frame the device answered with
	// retx instead of failing. Resends are capped at CRCRetries per frame.
	ResendOnRetx bool
}

// UnsetCRCRetries marks TransportConfig.CRCRetries as unset.
const UnsetCRCRetries = -1

// DefaultTransportConfig returns the timings the bootloader is built for.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		ReceiveTimeout: DefaultReceiveTimeout,
		PollInterval:   DefaultPollInterval,
		CRCRetries:     DefaultCRCRetries,
		TraceSize:      DefaultTraceSize,
	}
}

func (c *TransportConfig) withDefaults() TransportConfig {
	out := *c
	def := DefaultTransportConfig()
	if out.ReceiveTimeout <= 0 {
		out.ReceiveTimeout = def.ReceiveTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.CRCRetries < 0 {
		out.CRCRetries = def.CRCRetries
	}
	if out.TraceSize <= 0 {
		out.TraceSize = def.TraceSize
	}
	return out
}

// Transport exchanges packets with the bootloader over a Channel. Every
// valid frame received (other than an ack) is acknowledged, corrupt frames
// are answered with retx and read again, and Send only succeeds once the
// device acknowledged the frame.
//
// A Transport is meant to be driven by a single goroutine. Stats may be
// read concurrently.
type Transport struct {
	ch    Channel
	trace *TraceBuffer
	cfg   TransportConfig
	stats Stats
	mu    syncutil.Mutex
}

// NewTransport wraps ch. A nil cfg selects DefaultTransportConfig.
func NewTransport(ch Channel, cfg *TransportConfig) *Transport {
	if cfg == nil {
		cfg = DefaultTransportConfig()
	}
	c := cfg.withDefaults()
	return &Transport{
		ch:    ch,
		cfg:   c,
		trace: NewTraceBuffer(c.Port, c.TraceSize),
	}
}

// Config returns the effective configuration.
func (t *Transport) Config() TransportConfig {
	return t.cfg
}

// Channel returns the underlying channel.
func (t *Transport) Channel() Channel {
	return t.ch
}

// Stats returns a snapshot of the traffic counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// WrapError attaches the recent wire trace to err. Returns nil if err is nil.
func (t *Transport) WrapError(err error) error {
	return t.trace.WrapError(err)
}

// Receive reads the next valid frame. Each corrupt frame is answered with
// retx and read again; after maxRetries+1 corrupt frames in a row Receive
// fails with ErrRetryBudgetExhausted without asking for another resend.
// A valid frame of any type but ack is acknowledged before it is returned.
func (t *Transport) Receive(ctx context.Context, maxRetries int, timeout time.Duration) (*Packet, error) {
	if timeout <= 0 {
		timeout = t.cfg.ReceiveTimeout
	}

	for attempt := 0; ; attempt++ {
		buf, err := t.readFrame(ctx, timeout)
		if err != nil {
			return nil, err
		}

		pkt, ok := DecodePacket(buf)
		if !ok {
			t.trace.RecordRX(buf[:], "bad crc")
			t.bump(func(s *Stats) { s.CRCErrors++ })
			Debugf("RX corrupt frame (%d/%d): %s", attempt+1, maxRetries+1, formatHexBytes(buf[:]))

			if attempt >= maxRetries {
				return nil, fmt.Errorf("%w: %d corrupt frames in a row", ErrRetryBudgetExhausted, attempt+1)
			}
			if err := t.writePacket(ctx, NewControlPacket(PacketTypeRetx)); err != nil {
				return nil, err
			}
			t.bump(func(s *Stats) { s.RetxSent++ })
			continue
		}

		t.trace.RecordRX(buf[:], pkt.Type.String())
		t.bump(func(s *Stats) {
			s.RxPackets[pkt.Type]++
			if pkt.Type == PacketTypeRetx {
				s.RetxReceived++
			}
		})
		Debugf("RX %s", &pkt)
		Debugln(pkt.Dump())

		if pkt.Type != PacketTypeAck {
			if err := t.writePacket(ctx, NewControlPacket(PacketTypeAck)); err != nil {
				return nil, err
			}
		}
		return &pkt, nil
	}
}

// ReceiveExpected receives a frame with the configured retry budget and
// fails with an *UnexpectedPacketTypeError unless it has the expected type.
// A non-positive timeout selects the configured receive timeout.
func (t *Transport) ReceiveExpected(ctx context.Context, expected PacketType, timeout time.Duration) (*Packet, error) {
	pkt, err := t.Receive(ctx, t.cfg.CRCRetries, timeout)
	if err != nil {
		return nil, err
	}
	if pkt.Type != expected {
		return pkt, &UnexpectedPacketTypeError{Expected: expected, Got: pkt.Type}
	}
	return pkt, nil
}

// Send writes pkt and, unless it is an ack or retx, waits for the device to
// acknowledge it. A missing or wrong acknowledgement yields an error
// matching ErrAckNotReceived and the underlying cause.
func (t *Transport) Send(ctx context.Context, pkt *Packet) error {
	if err := t.writePacket(ctx, pkt); err != nil {
		return err
	}
	if pkt.Type.IsControl() {
		return nil
	}

	for resends := 0; ; resends++ {
		_, err := t.ReceiveExpected(ctx, PacketTypeAck, t.cfg.ReceiveTimeout)
		if err == nil {
			return nil
		}

		if !t.shouldResend(err, resends) {
			return fmt.Errorf("%w: %s: %w", ErrAckNotReceived, pkt.Type, err)
		}

		Debugf("device asked for %s again (resend %d/%d)", pkt.Type, resends+1, t.cfg.CRCRetries)
		t.bump(func(s *Stats) { s.Resends++ })
		if err := t.writePacket(ctx, pkt); err != nil {
			return err
		}
	}
}

func (t *Transport) shouldResend(err error, resends int) bool {
	if !t.cfg.ResendOnRetx || resends >= t.cfg.CRCRetries {
		return false
	}
	var ute *UnexpectedPacketTypeError
	return errors.As(err, &ute) && ute.Got == PacketTypeRetx
}

// WriteRaw writes unframed bytes, such as the sync sequence.
func (t *Transport) WriteRaw(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write cancelled: %w", err)
	}
	if err := t.write(b); err != nil {
		return err
	}
	t.trace.RecordTX(b, "raw")
	Debugf("TX raw %s", formatHexBytes(b))
	return nil
}

func (t *Transport) writePacket(ctx context.Context, pkt *Packet) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send %s cancelled: %w", pkt.Type, err)
	}

	enc := pkt.Encode()
	if err := t.write(enc[:]); err != nil {
		return err
	}

	t.trace.RecordTX(enc[:], pkt.Type.String())
	t.bump(func(s *Stats) { s.TxPackets[pkt.Type]++ })
	Debugf("TX %s", pkt)
	return nil
}

func (t *Transport) write(b []byte) error {
	n, err := t.ch.Write(b)
	if err != nil {
		return NewChannelIOError("write", t.cfg.Port, err)
	}
	if n != len(b) {
		return NewChannelIOError("write", t.cfg.Port, fmt.Errorf("short write: %d of %d bytes", n, len(b)))
	}
	return nil
}

// readFrame waits for a whole frame and reads it. Channels that implement
// TimedReader block on the read itself; others are polled.
func (t *Transport) readFrame(ctx context.Context, timeout time.Duration) ([PacketFrameSize]byte, error) {
	var buf [PacketFrameSize]byte

	if err := ctx.Err(); err != nil {
		return buf, fmt.Errorf("receive cancelled: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	if tr, ok := t.ch.(TimedReader); ok {
		return buf, t.readTimed(ctx, tr, buf[:], timeout)
	}

	if err := t.pollAvailable(ctx, timeout); err != nil {
		return buf, err
	}
	if err := t.ch.ReadFull(buf[:]); err != nil {
		return buf, NewChannelIOError("read", t.cfg.Port, err)
	}
	return buf, nil
}

// readTimed reads in slices of at most CancelCheckInterval so that a
// cancelled context ends the wait early.
func (t *Transport) readTimed(ctx context.Context, tr TimedReader, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("receive cancelled: %w", err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return t.timedOut(ctx, timeout)
		}

		err := tr.ReadFullTimeout(buf, min(remaining, CancelCheckInterval))
		switch {
		case errors.Is(err, ErrReceiveTimeout):
			continue
		case err != nil:
			return NewChannelIOError("read", t.cfg.Port, err)
		}
		return nil
	}
}

func (t *Transport) pollAvailable(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	timer := time.NewTimer(t.cfg.PollInterval)
	defer timer.Stop()

	for {
		n, err := t.ch.Available()
		if err != nil {
			return NewChannelIOError("poll", t.cfg.Port, err)
		}
		if n >= PacketFrameSize {
			return nil
		}
		if time.Since(start) > timeout {
			return t.timedOut(ctx, timeout)
		}

		timer.Reset(t.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return fmt.Errorf("receive cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (t *Transport) timedOut(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("receive cancelled: %w", err)
	}
	t.trace.RecordTimeout(fmt.Sprintf("no frame within %v", timeout))
	t.bump(func(s *Stats) { s.Timeouts++ })
	return NewTimeoutError("receive", t.cfg.Port)
}

func (t *Transport) bump(fn func(*Stats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
}

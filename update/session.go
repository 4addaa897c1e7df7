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

// Package update drives the firmware update handshake with the bootloader:
// sync, update negotiation, device identity, image length and the chunked,
// device-paced transfer of the application image.
package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-fwflash"
	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

// ErrSessionUsed is returned when Run is called on a session that has
// already run. A failed update must be restarted with a new session.
var ErrSessionUsed = errors.New("session has already run")

// StageError reports the stage an update failed in.
type StageError struct {
	Err   error
	Stage Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Session performs one firmware update over a channel it owns for its
// whole lifetime. Any failure is final; there is no resumption.
type Session struct {
	startTime time.Time
	tr        *fwflash.Transport
	img       *fwflash.Image
	cfg       Config
	stage     Stage
	bytesSent int
	started   bool
	mu        syncutil.Mutex
}

// NewSession prepares an update of the combined image raw over ch.
func NewSession(ch fwflash.Channel, raw []byte, opts ...Option) (*Session, error) {
	if ch == nil {
		return nil, errors.New("nil channel")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	img, err := fwflash.NewImage(raw, cfg.BootloaderSize)
	if err != nil {
		return nil, err
	}

	return &Session{
		tr:  fwflash.NewTransport(ch, cfg.TransportConfig()),
		img: img,
		cfg: *cfg,
	}, nil
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// BytesSent returns the number of application bytes the device has
// acknowledged.
func (s *Session) BytesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// Image returns the image being flashed.
func (s *Session) Image() *fwflash.Image {
	return s.img
}

// Stats returns the packet counters of the underlying transport.
func (s *Session) Stats() fwflash.Stats {
	return s.tr.Stats()
}

// Run performs the update. On failure it returns a *StageError carrying
// the recent wire trace (see fwflash.GetTrace).
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.started = true
	s.startTime = time.Now()
	s.mu.Unlock()

	steps := []struct {
		run   func(context.Context) error
		stage Stage
	}{
		{stage: StageIdle, run: s.sendSync},
		{stage: StageAwaitSync, run: s.awaitSync},
		{stage: StageNegotiateUpdate, run: s.negotiateUpdate},
		{stage: StageExchangeDeviceID, run: s.exchangeDeviceID},
		{stage: StageExchangeLength, run: s.exchangeLength},
		{stage: StageTransfer, run: s.transfer},
		{stage: StageAwaitCompletion, run: s.awaitCompletion},
	}

	for _, step := range steps {
		if step.stage == StageAwaitCompletion && !s.cfg.AwaitCompletion {
			continue
		}
		s.enter(step.stage)
		if err := step.run(ctx); err != nil {
			return s.fail(step.stage, err)
		}
	}

	s.enter(StageDone)
	fwflash.Debugf("update complete: %d bytes in %v", s.BytesSent(), time.Since(s.startTime).Round(time.Millisecond))
	fwflash.Debugln(s.tr.Stats().String())
	return nil
}

func (s *Session) sendSync(ctx context.Context) error {
	if r, ok := s.tr.Channel().(fwflash.InputResetter); ok {
		if err := r.ResetInput(); err != nil {
			return fmt.Errorf("failed to reset input: %w", err)
		}
	}
	return s.tr.WriteRaw(ctx, s.cfg.SyncSequence)
}

func (s *Session) awaitSync(ctx context.Context) error {
	_, err := s.tr.ReceiveExpected(ctx, fwflash.PacketTypeSeqObserved, s.cfg.ReceiveTimeout)
	return err
}

func (s *Session) negotiateUpdate(ctx context.Context) error {
	if err := s.tr.Send(ctx, fwflash.NewControlPacket(fwflash.PacketTypeFWUpdateReq)); err != nil {
		return err
	}
	_, err := s.tr.ReceiveExpected(ctx, fwflash.PacketTypeFWUpdateRes, s.cfg.ReceiveTimeout)
	return err
}

func (s *Session) exchangeDeviceID(ctx context.Context) error {
	if _, err := s.tr.ReceiveExpected(ctx, fwflash.PacketTypeDeviceIDReq, s.cfg.ReceiveTimeout); err != nil {
		return err
	}
	pkt, err := fwflash.NewPacket(fwflash.PacketTypeDeviceIDRes, []byte{s.cfg.DeviceID})
	if err != nil {
		return err
	}
	return s.tr.Send(ctx, pkt)
}

func (s *Session) exchangeLength(ctx context.Context) error {
	if _, err := s.tr.ReceiveExpected(ctx, fwflash.PacketTypeFWLengthReq, s.cfg.ReceiveTimeout); err != nil {
		return err
	}
	pkt, err := fwflash.NewPacket(fwflash.PacketTypeFWLengthRes, s.img.LengthPayload())
	if err != nil {
		return err
	}
	fwflash.Debugf("application size %d bytes", s.img.AppSize())
	return s.tr.Send(ctx, pkt)
}

// transfer sends one chunk for every ready_for_firmware the device sends.
func (s *Session) transfer(ctx context.Context) error {
	app := s.img.App()

	for offset := s.BytesSent(); offset < len(app); offset = s.BytesSent() {
		if _, err := s.tr.ReceiveExpected(ctx, fwflash.PacketTypeReadyForFirmware, s.cfg.ReadyTimeout); err != nil {
			return fmt.Errorf("waiting to send offset %d: %w", offset, err)
		}

		end := min(offset+fwflash.PacketDataSize, len(app))
		pkt, err := fwflash.NewPacket(fwflash.PacketTypeData, app[offset:end])
		if err != nil {
			return err
		}
		if err := s.tr.Send(ctx, pkt); err != nil {
			return fmt.Errorf("sending offset %d: %w", offset, err)
		}

		s.mu.Lock()
		s.bytesSent = end
		s.mu.Unlock()
		s.report(StageTransfer)
	}
	return nil
}

func (s *Session) awaitCompletion(ctx context.Context) error {
	_, err := s.tr.ReceiveExpected(ctx, fwflash.PacketTypeFWUpdateSuccessful, s.cfg.ReceiveTimeout)
	return err
}

func (s *Session) enter(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()

	fwflash.Debugf("stage %s", stage)
	s.report(stage)
}

func (s *Session) fail(stage Stage, err error) error {
	if errors.Is(err, fwflash.ErrDeviceAborted) {
		fwflash.Debugf("device aborted the update during %s", stage)
	}
	fwflash.Debugln(s.tr.Stats().String())
	return s.tr.WrapError(&StageError{Stage: stage, Err: err})
}

func (s *Session) report(stage Stage) {
	if s.cfg.ProgressCallback == nil {
		return
	}

	s.mu.Lock()
	sent := s.bytesSent
	elapsed := time.Since(s.startTime)
	s.mu.Unlock()

	total := s.img.AppSize()
	s.cfg.ProgressCallback(Progress{
		Stage:      stage,
		BytesSent:  sent,
		TotalBytes: total,
		Percentage: float64(sent) / float64(total) * 100,
		Elapsed:    elapsed,
	})
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ZaparooProject/go-fwflash"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, cfg.SyncSequence)
	assert.Equal(t, 0x10000, cfg.BootloaderSize)
	assert.Equal(t, byte(0x69), cfg.DeviceID)
	assert.Equal(t, 2*time.Second, cfg.ReceiveTimeout)
	assert.Equal(t, 15*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, 5, cfg.CRCRetries)
	assert.False(t, cfg.ResendOnRetx)
	assert.False(t, cfg.AwaitCompletion)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithDeviceID(0x10),
		WithBootloaderSize(0x8000),
		WithReceiveTimeout(time.Second),
		WithReadyTimeout(3 * time.Second),
		WithPollInterval(time.Millisecond),
		WithCRCRetries(2),
		WithResendOnRetx(true),
		WithAwaitCompletion(true),
		WithSyncSequence([]byte{0xAA}),
		WithPort("/dev/ttyACM0"),
	} {
		opt(cfg)
	}

	assert.Equal(t, byte(0x10), cfg.DeviceID)
	assert.Equal(t, 0x8000, cfg.BootloaderSize)
	assert.Equal(t, time.Second, cfg.ReceiveTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, []byte{0xAA}, cfg.SyncSequence)

	tc := cfg.TransportConfig()
	assert.Equal(t, &fwflash.TransportConfig{
		Port:           "/dev/ttyACM0",
		ReceiveTimeout: time.Second,
		PollInterval:   time.Millisecond,
		CRCRetries:     2,
		ResendOnRetx:   true,
	}, tc)
}

func TestOptions_IgnoreInvalid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	WithReceiveTimeout(0)(cfg)
	WithReadyTimeout(-time.Second)(cfg)
	WithPollInterval(0)(cfg)
	WithCRCRetries(-1)(cfg)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestWithCRCRetries_Zero(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	WithCRCRetries(0)(cfg)
	assert.Zero(t, cfg.CRCRetries)

	tr := fwflash.NewTransport(fwflash.NewMockChannel(), cfg.TransportConfig())
	assert.Zero(t, tr.Config().CRCRetries)
}

func TestWithSyncSequence_Copies(t *testing.T) {
	t.Parallel()

	seq := []byte{1, 2}
	cfg := DefaultConfig()
	WithSyncSequence(seq)(cfg)
	seq[0] = 9

	assert.Equal(t, []byte{1, 2}, cfg.SyncSequence)
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want  string
		stage Stage
	}{
		{stage: StageIdle, want: "idle"},
		{stage: StageAwaitSync, want: "await_sync"},
		{stage: StageNegotiateUpdate, want: "negotiate_update"},
		{stage: StageExchangeDeviceID, want: "exchange_device_id"},
		{stage: StageExchangeLength, want: "exchange_length"},
		{stage: StageTransfer, want: "transfer"},
		{stage: StageAwaitCompletion, want: "await_completion"},
		{stage: StageDone, want: "done"},
		{stage: Stage(42), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.stage.String())
		})
	}
}

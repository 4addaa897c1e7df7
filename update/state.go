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

// Stage is a step of the update handshake. Stages are entered strictly in
// declaration order; a failure leaves the session in the stage that failed.
type Stage int

const (
	// StageIdle writes the raw sync sequence.
	StageIdle Stage = iota
	// StageAwaitSync waits for seq_observed.
	StageAwaitSync
	// StageNegotiateUpdate sends fw_update_req and waits for fw_update_res.
	StageNegotiateUpdate
	// StageExchangeDeviceID answers device_id_req with the device ID.
	StageExchangeDeviceID
	// StageExchangeLength answers fw_length_req with the application size.
	StageExchangeLength
	// StageTransfer sends the application one chunk per ready_for_firmware.
	StageTransfer
	// StageAwaitCompletion waits for fw_update_successful. Skipped unless
	// the session is configured to wait for it.
	StageAwaitCompletion
	// StageDone means the update finished.
	StageDone
)

var stageNames = [...]string{
	StageIdle:             "idle",
	StageAwaitSync:        "await_sync",
	StageNegotiateUpdate:  "negotiate_update",
	StageExchangeDeviceID: "exchange_device_id",
	StageExchangeLength:   "exchange_length",
	StageTransfer:         "transfer",
	StageAwaitCompletion:  "await_completion",
	StageDone:             "done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

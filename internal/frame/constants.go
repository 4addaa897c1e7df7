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

package frame

// Frame layout. Every frame on the wire is exactly Size bytes:
// length(1) | type(1) | data(DataSize) | crc(1).
const (
	DataSize = 16           // Fixed payload width
	Size     = DataSize + 3 // Complete frame width
)

// Field offsets within an encoded frame
const (
	LengthOffset = 0
	TypeOffset   = 1
	DataOffset   = 2
	CRCOffset    = Size - 1
)

// PadByte fills the unused tail of the data field.
const PadByte = 0xFF

// SyncSequence is written unframed once at session start to wake the bootloader.
var SyncSequence = []byte{0x11, 0x22, 0x33, 0x44}

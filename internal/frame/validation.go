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

// ComputeChecksum returns the CRC over the length, type and data fields of an
// encoded frame. The stored CRC byte itself is never part of the input.
func ComputeChecksum(buf []byte) (byte, bool) {
	if len(buf) < Size {
		return 0, false
	}
	return CRC8(buf[:CRCOffset]), true
}

// ValidateFrame reports whether buf holds a complete frame whose stored CRC
// matches a recomputation over the raw bytes.
func ValidateFrame(buf []byte) bool {
	crc, ok := ComputeChecksum(buf)
	if !ok {
		return false
	}
	return crc == buf[CRCOffset]
}

// PayloadLength returns the number of meaningful data bytes in an encoded
// frame, clamped to DataSize so a corrupted length byte can never index past
// the data field.
func PayloadLength(buf []byte) int {
	if len(buf) < Size {
		return 0
	}
	return min(int(buf[LengthOffset]), DataSize)
}

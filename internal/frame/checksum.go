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

// CRC-8 parameters used by the bootloader wire format.
const (
	CRC8Polynomial = 0x07
	crc8TopBit     = 0x80
)

// CRC8 computes the 8-bit CRC used by the bootloader: polynomial 0x07,
// MSB first, zero initial value, no reflection and no final XOR.
//
// The bit loop must not be replaced by a reflected or table variant; the
// reference bootloader computes it exactly this way.
func CRC8(data []byte) byte {
	crc := byte(0)
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&crc8TopBit != 0 {
				crc = (crc << 1) ^ CRC8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC8(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{
			name: "empty data",
			data: []byte{},
			want: 0x00,
		},
		{
			name: "single byte",
			data: []byte{0x42},
			want: 0xC9,
		},
		{
			name: "all ones byte",
			data: []byte{0xFF},
			want: 0xF3,
		},
		{
			name: "multiple bytes",
			data: []byte{0x01, 0x02, 0x03, 0x04},
			want: 0xE3,
		},
		{
			name: "standard check string",
			data: []byte("123456789"),
			want: 0xF4,
		},
		{
			name: "ack control frame body",
			data: append([]byte{0x10, 0x01}, fill(DataSize, PadByte)...),
			want: 0x5A,
		},
		{
			name: "retx control frame body",
			data: append([]byte{0x10, 0x02}, fill(DataSize, PadByte)...),
			want: 0x48,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CRC8(tt.data))
		})
	}
}

func TestCRC8_Deterministic(t *testing.T) {
	t.Parallel()
	data := []byte{0x05, 0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	first := CRC8(data)
	for range 100 {
		assert.Equal(t, first, CRC8(data))
	}
}

func TestValidateFrame(t *testing.T) {
	t.Parallel()

	valid := make([]byte, Size)
	valid[LengthOffset] = DataSize
	valid[TypeOffset] = 0x01
	copy(valid[DataOffset:], fill(DataSize, PadByte))
	valid[CRCOffset] = 0x5A

	assert.True(t, ValidateFrame(valid))

	corrupted := append([]byte(nil), valid...)
	corrupted[DataOffset+3] ^= 0x10
	assert.False(t, ValidateFrame(corrupted))

	assert.False(t, ValidateFrame(valid[:Size-1]), "short frame must not validate")
	assert.False(t, ValidateFrame(nil))
}

func TestValidateFrame_SingleBitFlips(t *testing.T) {
	t.Parallel()

	buf := make([]byte, Size)
	buf[LengthOffset] = 5
	buf[TypeOffset] = 0x00
	copy(buf[DataOffset:], []byte{1, 2, 3, 4, 5})
	for i := DataOffset + 5; i < CRCOffset; i++ {
		buf[i] = PadByte
	}
	buf[CRCOffset] = CRC8(buf[:CRCOffset])
	assert.True(t, ValidateFrame(buf))

	// A CRC-8 with a non-trivial polynomial detects every single-bit error
	// in a message this short.
	for i := range CRCOffset {
		for bit := range 8 {
			flipped := append([]byte(nil), buf...)
			flipped[i] ^= 1 << bit
			assert.False(t, ValidateFrame(flipped), "flip byte %d bit %d went undetected", i, bit)
		}
	}
}

func TestPayloadLength(t *testing.T) {
	t.Parallel()

	buf := make([]byte, Size)
	buf[LengthOffset] = 7
	assert.Equal(t, 7, PayloadLength(buf))

	buf[LengthOffset] = 0xFF
	assert.Equal(t, DataSize, PayloadLength(buf), "length must clamp to data width")

	assert.Equal(t, 0, PayloadLength(buf[:4]))
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

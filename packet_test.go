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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacketType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  byte
		want PacketType
	}{
		{name: "data", raw: 0, want: PacketTypeData},
		{name: "retx", raw: 2, want: PacketTypeRetx},
		{name: "fw_update_aborted", raw: 12, want: PacketTypeFWUpdateAborted},
		{name: "unknown literal", raw: 13, want: PacketTypeUnknown},
		{name: "out of range", raw: 0x7F, want: PacketTypeUnknown},
		{name: "max byte", raw: 0xFF, want: PacketTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParsePacketType(tt.raw))
		})
	}
}

func TestPacketType_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ack", PacketTypeAck.String())
	assert.Equal(t, "ready_for_firmware", PacketTypeReadyForFirmware.String())
	assert.Equal(t, "fw_length_res", PacketTypeFWLengthRes.String())
	assert.Equal(t, "unknown", PacketTypeUnknown.String())
	assert.Equal(t, "unknown", PacketType(200).String())
}

func TestNewPacket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  []byte
		typ      PacketType
		wantLen  uint8
		wantCRC  uint8
		wantData []byte
	}{
		{
			name:     "full data chunk",
			typ:      PacketTypeData,
			payload:  []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
			wantLen:  16,
			wantCRC:  0xEF,
			wantData: []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		},
		{
			name:     "device id padded with 0xFF",
			typ:      PacketTypeDeviceIDRes,
			payload:  []byte{0x69},
			wantLen:  1,
			wantCRC:  0xD1,
			wantData: append([]byte{0x69}, bytes.Repeat([]byte{0xFF}, 15)...),
		},
		{
			name:     "little endian length",
			typ:      PacketTypeFWLengthRes,
			payload:  []byte{0x03, 0x02, 0x01, 0x00},
			wantLen:  4,
			wantCRC:  0x29,
			wantData: append([]byte{0x03, 0x02, 0x01, 0x00}, bytes.Repeat([]byte{0xFF}, 12)...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewPacket(tt.typ, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.wantLen, p.Length)
			assert.Equal(t, tt.wantData, p.Data[:])
			assert.Equal(t, tt.wantCRC, p.CRC)
			assert.True(t, p.Valid())
			assert.Equal(t, tt.payload, p.Payload())
		})
	}
}

func TestNewPacket_CopiesPayload(t *testing.T) {
	t.Parallel()

	payload := []byte{1, 2, 3}
	p, err := NewPacket(PacketTypeData, payload)
	require.NoError(t, err)

	payload[0] = 0xAA
	assert.Equal(t, byte(1), p.Data[0])
	assert.True(t, p.Valid())
}

func TestNewPacket_Oversized(t *testing.T) {
	t.Parallel()

	p, err := NewPacket(PacketTypeData, make([]byte, PacketDataSize+1))
	require.ErrorIs(t, err, ErrOversizedPayload)
	assert.Nil(t, p)
}

func TestNewControlPacket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ     PacketType
		wantCRC uint8
	}{
		{typ: PacketTypeAck, wantCRC: 0x5A},
		{typ: PacketTypeRetx, wantCRC: 0x48},
		{typ: PacketTypeFWUpdateReq, wantCRC: 0x6C},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			t.Parallel()

			p := NewControlPacket(tt.typ)
			assert.Equal(t, uint8(PacketDataSize), p.Length)
			assert.Equal(t, bytes.Repeat([]byte{0xFF}, PacketDataSize), p.Data[:])
			assert.Equal(t, tt.wantCRC, p.CRC)
		})
	}
}

func TestPacket_EncodeLayout(t *testing.T) {
	t.Parallel()

	p := NewControlPacket(PacketTypeAck)
	enc := p.Encode()

	want := append([]byte{0x10, 0x01}, bytes.Repeat([]byte{0xFF}, 16)...)
	want = append(want, 0x5A)
	assert.Equal(t, want, enc[:])
}

func TestDecodePacket_RoundTrip(t *testing.T) {
	t.Parallel()

	for typ := range PacketTypeCount {
		payload := bytes.Repeat([]byte{byte(typ)}, typ+1)
		p, err := NewPacket(PacketType(typ), payload)
		require.NoError(t, err)

		got, ok := DecodePacket(p.Encode())
		assert.True(t, ok, "type %s", PacketType(typ))
		assert.Equal(t, *p, got)
	}
}

func TestDecodePacket_UnknownTypeKeepsRawCRC(t *testing.T) {
	t.Parallel()

	var buf [PacketFrameSize]byte
	buf[0] = 16
	buf[1] = 0x7F
	for i := 2; i < 18; i++ {
		buf[i] = 0xFF
	}
	buf[18] = 0xA0

	p, ok := DecodePacket(buf)
	assert.True(t, ok)
	assert.Equal(t, PacketTypeUnknown, p.Type)
}

func TestDecodePacket_TamperDetected(t *testing.T) {
	t.Parallel()

	p, err := NewPacket(PacketTypeData, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)

	enc := p.Encode()
	for i := range PacketFrameSize - 1 {
		for bit := range 8 {
			tampered := enc
			tampered[i] ^= 1 << bit
			_, ok := DecodePacket(tampered)
			assert.False(t, ok, "flip byte %d bit %d", i, bit)
		}
	}
}

func TestPacket_Payload_ClampsLength(t *testing.T) {
	t.Parallel()

	p := Packet{Length: 40}
	assert.Len(t, p.Payload(), PacketDataSize)
}

func TestPacket_Dump(t *testing.T) {
	t.Parallel()

	p, err := NewPacket(PacketTypeDeviceIDRes, []byte{0x69})
	require.NoError(t, err)

	dump := p.Dump()
	assert.Contains(t, dump, "Length: 1")
	assert.Contains(t, dump, "Type: device_id_res (7)")
	assert.Contains(t, dump, "Data: 69 FF FF")
	assert.Contains(t, dump, "CRC: 0xD1 - valid")

	p.CRC ^= 0x01
	assert.Contains(t, p.Dump(), "invalid")
	assert.Equal(t, "device_id_res len=1 crc=0xD0", p.String())
}

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

// Package fwflash implements the host side of a serial bootloader protocol:
// fixed 19-byte frames protected by a CRC-8, an ACK/RETX acknowledgement
// discipline on top of them, and helpers for loading firmware images.
//
// The firmware update handshake itself lives in the update package.
package fwflash

import (
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-fwflash/internal/frame"
)

// Frame geometry re-exported for callers outside the module.
const (
	// PacketDataSize is the fixed width of the data field.
	PacketDataSize = frame.DataSize
	// PacketFrameSize is the width of an encoded packet on the wire.
	PacketFrameSize = frame.Size
)

// PacketType identifies the purpose of a packet.
type PacketType uint8

// Packet types, numbered as they appear on the wire.
const (
	PacketTypeData               PacketType = 0
	PacketTypeAck                PacketType = 1
	PacketTypeRetx               PacketType = 2
	PacketTypeSeqObserved        PacketType = 3
	PacketTypeFWUpdateReq        PacketType = 4
	PacketTypeFWUpdateRes        PacketType = 5
	PacketTypeDeviceIDReq        PacketType = 6
	PacketTypeDeviceIDRes        PacketType = 7
	PacketTypeFWLengthReq        PacketType = 8
	PacketTypeFWLengthRes        PacketType = 9
	PacketTypeReadyForFirmware   PacketType = 10
	PacketTypeFWUpdateSuccessful PacketType = 11
	PacketTypeFWUpdateAborted    PacketType = 12
	// PacketTypeUnknown stands in for every wire value not listed above.
	PacketTypeUnknown PacketType = 13
)

// PacketTypeCount is the number of distinct packet types, including unknown.
const PacketTypeCount = int(PacketTypeUnknown) + 1

var packetTypeNames = [PacketTypeCount]string{
	PacketTypeData:               "data",
	PacketTypeAck:                "ack",
	PacketTypeRetx:               "retx",
	PacketTypeSeqObserved:        "seq_observed",
	PacketTypeFWUpdateReq:        "fw_update_req",
	PacketTypeFWUpdateRes:        "fw_update_res",
	PacketTypeDeviceIDReq:        "device_id_req",
	PacketTypeDeviceIDRes:        "device_id_res",
	PacketTypeFWLengthReq:        "fw_length_req",
	PacketTypeFWLengthRes:        "fw_length_res",
	PacketTypeReadyForFirmware:   "ready_for_firmware",
	PacketTypeFWUpdateSuccessful: "fw_update_successful",
	PacketTypeFWUpdateAborted:    "fw_update_aborted",
	PacketTypeUnknown:            "unknown",
}

// ParsePacketType maps a wire byte onto a PacketType. Values outside the
// known range become PacketTypeUnknown rather than an error.
func ParsePacketType(b byte) PacketType {
	if b >= byte(PacketTypeUnknown) {
		return PacketTypeUnknown
	}
	return PacketType(b)
}

// String returns the protocol name of the packet type.
func (t PacketType) String() string {
	if int(t) >= PacketTypeCount {
		return packetTypeNames[PacketTypeUnknown]
	}
	return packetTypeNames[t]
}

// IsControl reports whether packets of this type are acknowledgements that
// never expect an acknowledgement of their own.
func (t PacketType) IsControl() bool {
	return t == PacketTypeAck || t == PacketTypeRetx
}

// Packet is the unit of exchange with the bootloader.
//
// Bytes in Data beyond Length are padding. They carry no meaning but are
// covered by the CRC.
type Packet struct {
	Length uint8
	Type   PacketType
	Data   [PacketDataSize]byte
	CRC    uint8
}

// NewPacket builds a packet carrying payload, padded with 0xFF and with its
// CRC computed. Payloads longer than PacketDataSize are rejected.
func NewPacket(t PacketType, payload []byte) (*Packet, error) {
	if len(payload) > PacketDataSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum is %d", ErrOversizedPayload, len(payload), PacketDataSize)
	}

	p := &Packet{
		Length: uint8(len(payload)), //nolint:gosec // bounded by PacketDataSize above
		Type:   t,
	}
	n := copy(p.Data[:], payload)
	for i := n; i < PacketDataSize; i++ {
		p.Data[i] = frame.PadByte
	}
	p.CRC = p.ComputeCRC()
	return p, nil
}

// NewControlPacket builds a payload-less packet the way the bootloader does:
// the length field claims the full data width and every data byte is 0xFF.
func NewControlPacket(t PacketType) *Packet {
	p := &Packet{
		Length: PacketDataSize,
		Type:   t,
	}
	for i := range p.Data {
		p.Data[i] = frame.PadByte
	}
	p.CRC = p.ComputeCRC()
	return p
}

// ComputeCRC returns the checksum over the length, type and data fields.
func (p *Packet) ComputeCRC() uint8 {
	enc := p.Encode()
	crc, _ := frame.ComputeChecksum(enc[:])
	return crc
}

// Valid reports whether the stored CRC matches the packet contents.
func (p *Packet) Valid() bool {
	return p.ComputeCRC() == p.CRC
}

// Payload returns the meaningful part of Data.
func (p *Packet) Payload() []byte {
	return p.Data[:min(int(p.Length), PacketDataSize)]
}

// Encode lays the packet out in its fixed wire format.
func (p *Packet) Encode() [PacketFrameSize]byte {
	var buf [PacketFrameSize]byte
	buf[frame.LengthOffset] = p.Length
	buf[frame.TypeOffset] = byte(p.Type)
	copy(buf[frame.DataOffset:frame.CRCOffset], p.Data[:])
	buf[frame.CRCOffset] = p.CRC
	return buf
}

// DecodePacket parses a wire frame. Decoding cannot fail; the returned bool
// reports whether the stored CRC matches the frame contents. The check runs
// over the raw bytes so that a frame with an unrecognised type byte is still
// judged correctly.
func DecodePacket(buf [PacketFrameSize]byte) (Packet, bool) {
	var p Packet
	p.Length = buf[frame.LengthOffset]
	p.Type = ParsePacketType(buf[frame.TypeOffset])
	copy(p.Data[:], buf[frame.DataOffset:frame.CRCOffset])
	p.CRC = buf[frame.CRCOffset]
	return p, frame.ValidateFrame(buf[:])
}

// String gives a one-line summary suitable for logs.
func (p *Packet) String() string {
	return fmt.Sprintf("%s len=%d crc=0x%02X", p.Type, p.Length, p.CRC)
}

// Dump renders the packet in a multi-line layout for debug logs.
func (p *Packet) Dump() string {
	status := "invalid"
	if p.Valid() {
		status = "valid"
	}

	var sb strings.Builder
	_, _ = sb.WriteString("Packet:\n")
	_, _ = fmt.Fprintf(&sb, "  Length: %d\n", p.Length)
	_, _ = fmt.Fprintf(&sb, "  Type: %s (%d)\n", p.Type, p.Type)
	_, _ = fmt.Fprintf(&sb, "  Data: %s\n", formatHexBytes(p.Data[:]))
	_, _ = fmt.Fprintf(&sb, "  CRC: 0x%02X - %s", p.CRC, status)
	return sb.String()
}

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

// Package testing provides test doubles for the bootloader link: a virtual
// bootloader that plays the device side of the update protocol, and
// connections that add latency and fragmentation to a byte stream.
package testing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-fwflash/internal/frame"
	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

// Wire values of the packet types the device handles.
const (
	TypeData               byte = 0
	TypeAck                byte = 1
	TypeRetx               byte = 2
	TypeSeqObserved        byte = 3
	TypeFWUpdateReq        byte = 4
	TypeFWUpdateRes        byte = 5
	TypeDeviceIDReq        byte = 6
	TypeDeviceIDRes        byte = 7
	TypeFWLengthReq        byte = 8
	TypeFWLengthRes        byte = 9
	TypeReadyForFirmware   byte = 10
	TypeFWUpdateSuccessful byte = 11
	TypeFWUpdateAborted    byte = 12
)

// BootloaderStep is the device-side handshake position.
type BootloaderStep int

const (
	StepSync BootloaderStep = iota
	StepWaitUpdateReq
	StepWaitDeviceID
	StepWaitLength
	StepReceiveFirmware
	StepDone
	StepAborted
)

func (s BootloaderStep) String() string {
	switch s {
	case StepSync:
		return "sync"
	case StepWaitUpdateReq:
		return "wait_update_req"
	case StepWaitDeviceID:
		return "wait_device_id"
	case StepWaitLength:
		return "wait_length"
	case StepReceiveFirmware:
		return "receive_firmware"
	case StepDone:
		return "done"
	case StepAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DeviceStats mirrors the counters a real bootloader keeps for its link.
type DeviceStats struct {
	FramesAcked  int
	AcksReceived int
	RetxReceived int
	RetxSent     int
	CRCErrors    int
}

// VirtualBootloader simulates the device end of the update protocol. The
// host writes to it and reads the device's answers back, either through
// io.Reader or through the Available/ReadFull pair of a packet channel.
//
// Like the real device it acks every valid frame except ack and retx,
// answers corrupt frames with retx, and answers retx by resending the last
// frame it wrote, whatever that was. It never waits for acks.
type VirtualBootloader struct {
	corruptNext   map[byte]int
	abortReason   string
	syncSeq       []byte
	window        []byte
	inbound       []byte
	flash         []byte
	lastWritten   []byte
	rx            bytes.Buffer
	tx            bytes.Buffer
	stats         DeviceStats
	step          BootloaderStep
	maxFirmware   int
	fwLength      int
	retxInbound   int
	mu            syncutil.Mutex
	deviceID      byte
	sendCompleted bool
	silent        bool
}

// DefaultMaxFirmware is the application space of the simulated device.
const DefaultMaxFirmware = 0xF0000

// NewVirtualBootloader creates a device waiting for the default sync
// sequence, expecting device ID 0x69.
func NewVirtualBootloader() *VirtualBootloader {
	return &VirtualBootloader{
		corruptNext: make(map[byte]int),
		syncSeq:     append([]byte(nil), frame.SyncSequence...),
		deviceID:    0x69,
		maxFirmware: DefaultMaxFirmware,
	}
}

// SetDeviceID sets the identifier the device accepts.
func (v *VirtualBootloader) SetDeviceID(id byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deviceID = id
}

// SetMaxFirmware sets the largest application the device accepts.
func (v *VirtualBootloader) SetMaxFirmware(size int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxFirmware = size
}

// SetSendCompletion makes the device send fw_update_successful after the
// last chunk instead of staying quiet.
func (v *VirtualBootloader) SetSendCompletion(send bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sendCompleted = send
}

// SetSyncSequence replaces the sequence the device waits for.
func (v *VirtualBootloader) SetSyncSequence(seq []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncSeq = append([]byte(nil), seq...)
}

// SetSilent makes the device drop everything it receives.
func (v *VirtualBootloader) SetSilent(silent bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = silent
}

// CorruptNext flips the CRC of the next n frames of type typ the device
// sends. The copy kept for resends stays intact.
func (v *VirtualBootloader) CorruptNext(typ byte, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptNext[typ] += n
}

// RetxNextInbound makes the device answer the next n valid frames that
// would be acked with retx instead, as if they had arrived corrupted.
func (v *VirtualBootloader) RetxNextInbound(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.retxInbound += n
}

// Write receives bytes from the host.
func (v *VirtualBootloader) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.silent {
		return len(data), nil
	}
	v.rx.Write(data)
	v.process()
	return len(data), nil
}

// Read returns pending device output. It returns 0, nil when nothing is
// pending, like a serial port whose read timed out.
func (v *VirtualBootloader) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tx.Len() == 0 {
		return 0, nil
	}
	n, err := v.tx.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// Available returns the number of device bytes waiting to be read.
func (v *VirtualBootloader) Available() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tx.Len(), nil
}

// ReadFull reads exactly len(buf) pending device bytes.
func (v *VirtualBootloader) ReadFull(buf []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tx.Len() < len(buf) {
		return fmt.Errorf("want %d bytes, have %d: %w", len(buf), v.tx.Len(), io.ErrUnexpectedEOF)
	}
	_, _ = v.tx.Read(buf)
	return nil
}

// Step returns the device's handshake position.
func (v *VirtualBootloader) Step() BootloaderStep {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.step
}

// AbortReason explains why the device aborted, if it did.
func (v *VirtualBootloader) AbortReason() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.abortReason
}

// Flash returns a copy of the application bytes written so far.
func (v *VirtualBootloader) Flash() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.flash...)
}

// FirmwareLength returns the application size announced by the host.
func (v *VirtualBootloader) FirmwareLength() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fwLength
}

// Inbound returns the types of the valid frames the device accepted, in
// order. Acks and retx requests are not included.
func (v *VirtualBootloader) Inbound() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.inbound...)
}

// Stats returns the device link counters.
func (v *VirtualBootloader) Stats() DeviceStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *VirtualBootloader) process() {
	if v.step == StepSync {
		v.scanSync()
	}
	if v.step == StepSync {
		return
	}

	for v.rx.Len() >= frame.Size {
		buf := make([]byte, frame.Size)
		_, _ = v.rx.Read(buf)
		v.handleFrame(buf)
	}
}

// scanSync slides a window over raw input until the sync sequence shows up.
func (v *VirtualBootloader) scanSync() {
	for v.rx.Len() > 0 {
		b, _ := v.rx.ReadByte()
		v.window = append(v.window, b)
		if len(v.window) > len(v.syncSeq) {
			v.window = v.window[1:]
		}
		if bytes.Equal(v.window, v.syncSeq) {
			v.window = nil
			v.sendControl(TypeSeqObserved)
			v.step = StepWaitUpdateReq
			return
		}
	}
}

func (v *VirtualBootloader) handleFrame(buf []byte) {
	if !frame.ValidateFrame(buf) {
		v.stats.CRCErrors++
		v.sendRetx()
		return
	}

	switch typ := buf[frame.TypeOffset]; typ {
	case TypeRetx:
		v.stats.RetxReceived++
		if v.lastWritten != nil {
			v.tx.Write(v.lastWritten)
		}
	case TypeAck:
		v.stats.AcksReceived++
	default:
		if v.retxInbound > 0 {
			v.retxInbound--
			v.sendRetx()
			return
		}
		v.stats.FramesAcked++
		v.sendControl(TypeAck)
		v.inbound = append(v.inbound, typ)
		v.advance(typ, buf)
	}
}

func (v *VirtualBootloader) advance(typ byte, buf []byte) {
	payload := buf[frame.DataOffset : frame.DataOffset+frame.PayloadLength(buf)]

	switch v.step {
	case StepWaitUpdateReq:
		if typ != TypeFWUpdateReq {
			v.abort("expected fw_update_req")
			return
		}
		v.sendControl(TypeFWUpdateRes)
		v.sendControl(TypeDeviceIDReq)
		v.step = StepWaitDeviceID

	case StepWaitDeviceID:
		switch {
		case typ != TypeDeviceIDRes:
			v.abort("expected device_id_res")
		case buf[frame.LengthOffset] != 1:
			v.abort("invalid length of device_id_res")
		case payload[0] != v.deviceID:
			v.abort("invalid device id")
		default:
			v.sendControl(TypeFWLengthReq)
			v.step = StepWaitLength
		}

	case StepWaitLength:
		switch {
		case typ != TypeFWLengthRes:
			v.abort("expected fw_length_res")
		case buf[frame.LengthOffset] != 4:
			v.abort("invalid length of fw_length_res")
		default:
			fwLength := int(binary.LittleEndian.Uint32(payload))
			if fwLength > v.maxFirmware {
				v.abort("firmware size exceeded")
				return
			}
			v.fwLength = fwLength
			v.flash = make([]byte, 0, fwLength)
			v.sendControl(TypeReadyForFirmware)
			v.step = StepReceiveFirmware
		}

	case StepReceiveFirmware:
		if typ != TypeData {
			v.abort("expected data")
			return
		}
		v.flash = append(v.flash, payload...)
		if len(v.flash) < v.fwLength {
			v.sendControl(TypeReadyForFirmware)
			return
		}
		v.step = StepDone
		if v.sendCompleted {
			v.sendControl(TypeFWUpdateSuccessful)
		}

	case StepSync, StepDone, StepAborted:
	}
}

func (v *VirtualBootloader) abort(reason string) {
	v.abortReason = reason
	v.step = StepAborted
	v.sendControl(TypeFWUpdateAborted)
}

func (v *VirtualBootloader) sendRetx() {
	v.stats.RetxSent++
	v.sendControl(TypeRetx)
}

// sendControl writes a control frame laid out like the device firmware
// builds them: length 16 and every data byte 0xFF.
func (v *VirtualBootloader) sendControl(typ byte) {
	buf := make([]byte, frame.Size)
	buf[frame.LengthOffset] = frame.DataSize
	buf[frame.TypeOffset] = typ
	for i := frame.DataOffset; i < frame.CRCOffset; i++ {
		buf[i] = frame.PadByte
	}
	buf[frame.CRCOffset] = frame.CRC8(buf[:frame.CRCOffset])
	v.lastWritten = buf

	if v.corruptNext[typ] > 0 {
		v.corruptNext[typ]--
		bad := append([]byte(nil), buf...)
		bad[frame.CRCOffset] ^= 0xFF
		v.tx.Write(bad)
		return
	}
	v.tx.Write(buf)
}

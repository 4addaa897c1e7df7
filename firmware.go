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
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// DefaultBootloaderSize is the flash region reserved for the bootloader at
// the start of a combined image.
const DefaultBootloaderSize = 0x10000

// Image is a combined bootloader and application image. Only the
// application part is sent to the device.
type Image struct {
	raw            []byte
	bootloaderSize int
}

// NewImage wraps raw image bytes whose first bootloaderSize bytes are the
// bootloader region. The application part must be non-empty and its length
// must fit in 32 bits.
func NewImage(raw []byte, bootloaderSize int) (*Image, error) {
	if bootloaderSize < 0 {
		return nil, fmt.Errorf("invalid bootloader size %d", bootloaderSize)
	}
	if len(raw) <= bootloaderSize {
		return nil, fmt.Errorf("%w: %d bytes, bootloader region is %d", ErrImageTooSmall, len(raw), bootloaderSize)
	}
	if uint64(len(raw)-bootloaderSize) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(raw)-bootloaderSize)
	}
	return &Image{raw: raw, bootloaderSize: bootloaderSize}, nil
}

// LoadImage reads an image file from disk.
func LoadImage(path string, bootloaderSize int) (*Image, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := NewImage(raw, bootloaderSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// App returns the application bytes, everything after the bootloader region.
func (img *Image) App() []byte {
	return img.raw[img.bootloaderSize:]
}

// AppSize returns the number of application bytes.
func (img *Image) AppSize() int {
	return len(img.raw) - img.bootloaderSize
}

// BootloaderSize returns the size of the skipped region.
func (img *Image) BootloaderSize() int {
	return img.bootloaderSize
}

// LengthPayload encodes AppSize as the 4-byte little-endian payload of a
// fw_length_res packet.
func (img *Image) LengthPayload() []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(img.AppSize())) //nolint:gosec // checked in NewImage
	return payload
}

// PadBootloader pads a bootloader binary with 0xFF up to size bytes so it
// can be concatenated with an application image.
func PadBootloader(data []byte, size int) ([]byte, error) {
	if len(data) > size {
		return nil, fmt.Errorf("%w: %d bytes, region is %d", ErrBootloaderTooLarge, len(data), size)
	}
	out := make([]byte, size)
	n := copy(out, data)
	for i := n; i < size; i++ {
		out[i] = 0xFF
	}
	return out, nil
}

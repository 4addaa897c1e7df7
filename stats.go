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
	"fmt"
	"strings"
)

// Stats counts traffic seen by a Transport over its lifetime.
type Stats struct {
	TxPackets    [PacketTypeCount]int
	RxPackets    [PacketTypeCount]int
	CRCErrors    int
	RetxSent     int
	RetxReceived int
	Resends      int
	Timeouts     int
}

// TotalTx returns the number of frames written.
func (s Stats) TotalTx() int {
	total := 0
	for _, n := range s.TxPackets {
		total += n
	}
	return total
}

// TotalRx returns the number of valid frames read.
func (s Stats) TotalRx() int {
	total := 0
	for _, n := range s.RxPackets {
		total += n
	}
	return total
}

// String renders the non-zero counters, one per line.
func (s Stats) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "tx=%d rx=%d crc_errors=%d retx_sent=%d retx_received=%d resends=%d timeouts=%d\n",
		s.TotalTx(), s.TotalRx(), s.CRCErrors, s.RetxSent, s.RetxReceived, s.Resends, s.Timeouts)
	for i := range PacketTypeCount {
		if s.TxPackets[i] == 0 && s.RxPackets[i] == 0 {
			continue
		}
		_, _ = fmt.Fprintf(&sb, "  %-21s tx=%d rx=%d\n", PacketType(i), s.TxPackets[i], s.RxPackets[i])
	}
	return sb.String()
}

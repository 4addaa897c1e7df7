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
	"os"
	"sync/atomic"
	"time"
)

// debugEnabled controls console debug output. The session log file, when
// open, receives every message regardless.
var debugEnabled atomic.Bool

func init() {
	if os.Getenv("FWFLASH_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...any) {
	debugWrite(fmt.Sprintf(format, args...))
}

// Debugln logs its arguments in the manner of fmt.Sprint.
func Debugln(args ...any) {
	debugWrite(fmt.Sprint(args...))
}

func debugWrite(message string) {
	writeSessionLog(time.Now().Format("15:04:05.000") + " DEBUG: " + message + "\n")

	if debugEnabled.Load() {
		_, _ = fmt.Fprintf(os.Stderr, "DEBUG: %s\n", message)
	}
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

//go:build deadlock

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

// Package syncutil holds the mutex types used by the transport, detection
// and test-device code. Building with -tags=deadlock swaps in
// github.com/sasha-s/go-deadlock so lock-order bugs between the session
// and a channel's reader show up in tests.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock-detecting reader/writer mutex.
type RWMutex struct {
	deadlock.RWMutex
}

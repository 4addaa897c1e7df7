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

package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutex_SerializesWriters(t *testing.T) {
	t.Parallel()

	var mu Mutex
	var wg sync.WaitGroup
	count := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}

func TestRWMutex_AllowsConcurrentReaders(t *testing.T) {
	t.Parallel()

	var mu RWMutex
	mu.RLock()
	mu.RLock()
	mu.RUnlock()
	mu.RUnlock()

	mu.Lock()
	mu.Unlock() //nolint:staticcheck // empty critical section
}

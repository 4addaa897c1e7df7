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

package update

import "time"

// Progress reports how far an update has come.
type Progress struct {
	// Stage is the stage just entered or in progress
	Stage Stage
	// BytesSent is the number of application bytes acknowledged so far
	BytesSent int
	// TotalBytes is the application size
	TotalBytes int
	// Percentage is BytesSent over TotalBytes (0.0 to 100.0)
	Percentage float64
	// Elapsed is the time since Run started
	Elapsed time.Duration
}

// ProgressCallback receives progress reports. It runs on the session's
// goroutine and should return quickly.
type ProgressCallback func(Progress)

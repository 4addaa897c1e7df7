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

// Package detection finds serial ports a bootloader might be attached to.
// Detection is passive: it only reads port descriptors and never writes to
// a port, since any byte could be taken as part of a sync sequence.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

// Confidence represents how likely a port is to lead to a bootloader
type Confidence int

const (
	// Low confidence - a serial port with nothing known about it
	Low Confidence = iota
	// Medium confidence - a USB-serial bridge commonly used with the device
	Medium
	// High confidence - a VID:PID the caller asked for
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected port
type DeviceInfo struct {
	// Additional metadata (vidpid, manufacturer, product, serial)
	Metadata map[string]string
	// Transport type, "uart" for serial ports
	Transport string
	// Connection path (e.g., "/dev/ttyACM0", "COM3")
	Path string
	// Human-readable device name
	Name string
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	s := fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
	if vidpid := d.Metadata["vidpid"]; vidpid != "" {
		s += " [" + vidpid + "]"
	}
	if product := d.Metadata["product"]; product != "" {
		s += " " + product
	}
	return s
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// USB VID:PID pairs reported with High confidence
	Preferred []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector interface for transport-specific port detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no candidate ports were detected
	ErrNoDevicesFound = errors.New("no serial devices found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrMultipleDevices indicates auto-selection found more than one
	// equally good candidate
	ErrMultipleDevices = errors.New("multiple candidate devices found")
)

var (
	registry   []Detector
	registryMu syncutil.RWMutex
)

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// getDetectors returns detectors filtered by transport types
func getDetectors(transports []string) []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var filtered []Detector
	for _, d := range registry {
		if len(transports) == 0 || contains(transports, d.Transport()) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every registered detector in parallel and returns the
// candidates ordered by confidence, best first.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		def := DefaultOptions()
		opts = &def
	}
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func(d Detector) {
			results <- runDetector(ctx, d, opts)
		}(d)
	}

	var all []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			all = append(all, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(all) == 0 {
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, ErrNoDevicesFound
	}

	sortByConfidence(all)
	return all, nil
}

func runDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, ok := getCached(d.Transport(), opts.CacheTTL); ok {
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil {
		if errors.Is(err, ErrNoDevicesFound) {
			// A stale entry would keep pointing at an unplugged port.
			clearCacheForTransport(d.Transport())
		}
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		setCached(d.Transport(), devices)
	}
	return detectionResult{devices: filterDevices(devices, opts)}
}

func sortByConfidence(devices []DeviceInfo) {
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Confidence != devices[j].Confidence {
			return devices[i].Confidence > devices[j].Confidence
		}
		return devices[i].Path < devices[j].Path
	})
}

// filterDevices applies IgnorePaths and Blocklist filtering to a device list.
// Cached results go through it too.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// Select picks the port to flash from detection results: the single best
// candidate. Several candidates sharing the best confidence are ambiguous.
func Select(devices []DeviceInfo) (DeviceInfo, error) {
	if len(devices) == 0 {
		return DeviceInfo{}, ErrNoDevicesFound
	}

	sorted := append([]DeviceInfo(nil), devices...)
	sortByConfidence(sorted)

	best := sorted[0]
	var tied []string
	for _, d := range sorted[1:] {
		if d.Confidence == best.Confidence {
			tied = append(tied, d.Path)
		}
	}
	if len(tied) > 0 {
		return DeviceInfo{}, fmt.Errorf("%w: %s, %s", ErrMultipleDevices, best.Path, strings.Join(tied, ", "))
	}
	return best, nil
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}

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

// Command blpad pads a bootloader binary with 0xFF up to the size of its
// flash region, so an application image can be appended to it.
//
// Usage:
//
//	blpad [-size 0x10000] [-o padded.bin] <bootloader.bin>
//
// Without -o the input file is rewritten in place.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ZaparooProject/go-fwflash"
)

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("blpad", flag.ContinueOnError)
	fs.SetOutput(stderr)
	size := fs.String("size", "0x10000", "Size of the bootloader region")
	out := fs.String("o", "", "Output file (default: rewrite the input)")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: blpad [flags] <bootloader.bin>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	regionSize, err := strconv.ParseUint(*size, 0, 31)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: invalid -size %q: %v\n", *size, err)
		return 2
	}

	if err := pad(fs.Arg(0), *out, int(regionSize), stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func pad(in, out string, size int, stdout io.Writer) error {
	if out == "" {
		out = in
	}

	data, err := os.ReadFile(in) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return fmt.Errorf("failed to read bootloader: %w", err)
	}

	padded, err := fwflash.PadBootloader(data, size)
	if err != nil {
		if errors.Is(err, fwflash.ErrBootloaderTooLarge) {
			return fmt.Errorf("%s: %w, can't pad", in, err)
		}
		return err
	}

	if err := os.WriteFile(out, padded, 0o644); err != nil { //nolint:gosec // firmware images are not secret
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	_, _ = fmt.Fprintf(stdout, "padded bootloader of original size %d to %d\n", len(data), size)
	return nil
}

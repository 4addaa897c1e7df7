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
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-fwflash/internal/syncutil"
)

var (
	sessionLogMu     syncutil.Mutex
	sessionLogFile   *os.File
	sessionLogPath   string
	sessionLogWriter io.Writer
)

// InitSessionLog creates fwflash_<timestamp>.log in dir (the current
// directory when dir is empty) and mirrors every debug message into it.
// Returns the file path for display to the user.
func InitSessionLog(dir string) (string, error) {
	filename := fmt.Sprintf("fwflash_%s.log", time.Now().Format("20060102_150405"))
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	logFile, err := os.Create(filename) //nolint:gosec // name is built here, dir comes from the operator
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()
	if sessionLogFile != nil {
		_ = sessionLogFile.Close()
	}
	sessionLogFile = logFile
	sessionLogPath = filename
	sessionLogWriter = logFile
	writeSessionHeader(logFile)

	return filename, nil
}

// CloseSessionLog writes a footer and closes the session log, if open.
func CloseSessionLog() error {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()

	if sessionLogFile == nil {
		return nil
	}
	_, _ = fmt.Fprintf(sessionLogWriter, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogWriter = nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()
	return sessionLogPath
}

func writeSessionLog(line string) {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()
	if sessionLogWriter != nil {
		_, _ = io.WriteString(sessionLogWriter, line)
	}
}

func writeSessionHeader(writer io.Writer) {
	_, _ = fmt.Fprint(writer, "=== fwflash session log ===\n")
	_, _ = fmt.Fprintf(writer, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(writer, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(writer, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(writer, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(writer, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(writer, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(writer, "===========================\n\n")
}

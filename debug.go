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

package digimesh

import (
	"fmt"
	"os"
	"time"
)

// debugEnabled gates console output of debug logging. Set from the
// DIGIMESH_DEBUG or DEBUG environment variables, or SetDebugEnabled.
var debugEnabled = false

func init() {
	if os.Getenv("DIGIMESH_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf prints debug information.
// Always writes to the session log (if initialized) with a timestamp.
// Only prints to console when debug mode is enabled.
func Debugf(format string, args ...any) {
	emitDebug(fmt.Sprintf(format, args...))
}

// Debugln prints debug information, formatting args like fmt.Sprint.
func Debugln(args ...any) {
	emitDebug(fmt.Sprint(args...))
}

// DebugFrame logs a raw wire frame in hex, tagged with its direction.
// Long frames are truncated the same way trace errors are.
func DebugFrame(dir TraceDirection, raw []byte) {
	emitDebug(fmt.Sprintf("%s %s", dir, formatHexBytes(raw)))
}

func emitDebug(message string) {
	writeSessionLine("DEBUG", message)

	if debugEnabled {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

// writeSessionLine appends one timestamped line to the session log.
func writeSessionLine(level, message string) {
	sessionLogMu.Lock()
	defer sessionLogMu.Unlock()

	if sessionLogWriter == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(sessionLogWriter, "%s %s: %s\n", timestamp, level, message)
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

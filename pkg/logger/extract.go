// Copyright 2025 Kadir Pekel
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

package logger

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ExtractDocumentLog copies every line of the run log that carries the given
// document id into outPath, producing the per-document processing log that
// sits next to the parsed artifacts. Returns the number of lines written.
func ExtractDocumentLog(logPath, docID, outPath string) (int, error) {
	in, err := os.Open(logPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open run log: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create processing log: %w", err)
	}
	defer out.Close()

	needle := DocumentKey + "=" + docID
	writer := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, needle) {
			continue
		}
		if _, err := writer.WriteString(line + "\n"); err != nil {
			return count, fmt.Errorf("failed to write processing log: %w", err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read run log: %w", err)
	}

	if err := writer.Flush(); err != nil {
		return count, fmt.Errorf("failed to flush processing log: %w", err)
	}
	return count, nil
}

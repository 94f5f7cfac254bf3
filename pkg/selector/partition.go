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

package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kadirpekel/docpipe/pkg/document"
)

// Partition is a 1-indexed contiguous slice M/N of the selected list, used
// to fan a run out across orchestrator processes.
type Partition struct {
	Index int
	Total int
}

// ParsePartition parses an "M/N" spec.
func ParsePartition(spec string) (*Partition, error) {
	parts := strings.Split(spec, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid partition spec %q: want M/N", spec)
	}
	index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid partition index %q: %w", parts[0], err)
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid partition total %q: %w", parts[1], err)
	}
	if total < 1 {
		return nil, fmt.Errorf("partition total must be at least 1, got %d", total)
	}
	if index < 1 || index > total {
		return nil, fmt.Errorf("partition index %d out of range 1..%d", index, total)
	}
	return &Partition{Index: index, Total: total}, nil
}

// String renders the partition back as M/N.
func (p *Partition) String() string {
	return fmt.Sprintf("%d/%d", p.Index, p.Total)
}

// Apply returns this partition's slice of docs: the list is split into Total
// contiguous slices with the remainder spread over the first slices, and the
// Index-th slice (1-indexed) is returned. Concatenating slices 1..Total in
// order reproduces the input.
func (p *Partition) Apply(docs []*document.Document) []*document.Document {
	base := len(docs) / p.Total
	remainder := len(docs) % p.Total

	start := 0
	for i := 1; i < p.Index; i++ {
		start += base
		if i <= remainder {
			start++
		}
	}
	size := base
	if p.Index <= remainder {
		size++
	}
	return docs[start : start+size]
}

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

package chunker

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/kadirpekel/docpipe/pkg/document"
)

// footnoteDefPattern recognizes a definition element after cleaning has
// standardized markers: the text starts with [^N].
var footnoteDefPattern = regexp.MustCompile(`^\s*\[\^(\d{1,3})\]`)

// Inline reference forms. Matches only count when the number has a
// definition somewhere in the document, which keeps ordinary numbers
// (years, counts, list markers) from being mistaken for references.
var inlineRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\s(\d{1,3})(?:\s|$)`),
	regexp.MustCompile(`\[\^(\d{1,3})\]`),
	regexp.MustCompile(`(?:^|[^\[\^])\^(\d{1,3})`),
	regexp.MustCompile(`<sup>(\d{1,3})</sup>`),
}

// footnoteRegistry tracks every footnote number defined anywhere in the
// document and the first definition element seen for each.
type footnoteRegistry struct {
	definitions map[int]*document.ChunkElement
}

// buildFootnoteRegistry scans all chunks for definition elements.
func buildFootnoteRegistry(chunks []*document.Chunk) *footnoteRegistry {
	reg := &footnoteRegistry{definitions: make(map[int]*document.ChunkElement)}
	for _, chunk := range chunks {
		for i := range chunk.Elements {
			element := &chunk.Elements[i]
			if element.Kind != document.ElementText {
				continue
			}
			if number, ok := footnoteNumber(element.Text); ok {
				if _, exists := reg.definitions[number]; !exists {
					copied := *element
					reg.definitions[number] = &copied
				}
			}
		}
	}
	return reg
}

// footnoteNumber extracts the definition number when the text is a
// footnote definition.
func footnoteNumber(text string) (int, bool) {
	match := footnoteDefPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	number, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return number, true
}

// defined reports whether a number has a definition in the document.
func (r *footnoteRegistry) defined(number int) bool {
	_, ok := r.definitions[number]
	return ok
}

// inlineReferences finds footnote numbers referenced in text, restricted
// to numbers the registry knows.
func (r *footnoteRegistry) inlineReferences(text string) []int {
	seen := map[int]bool{}
	var refs []int
	for _, pattern := range inlineRefPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			number, err := strconv.Atoi(match[1])
			if err != nil || !r.defined(number) || seen[number] {
				continue
			}
			seen[number] = true
			refs = append(refs, number)
		}
	}
	sort.Ints(refs)
	return refs
}

// scopeChunkFootnotes enforces footnote locality inside one chunk: text
// elements get their inline_references attached, definition elements with
// no referring text in the chunk are dropped, and referenced definitions
// missing from the chunk are pulled in from the registry.
func (r *footnoteRegistry) scopeChunkFootnotes(chunk *document.Chunk) {
	referenced := map[int]bool{}
	present := map[int]bool{}

	kept := chunk.Elements[:0]
	for i := range chunk.Elements {
		element := chunk.Elements[i]
		if element.Kind != document.ElementText {
			kept = append(kept, element)
			continue
		}
		if number, ok := footnoteNumber(element.Text); ok {
			present[number] = true
			kept = append(kept, element)
			continue
		}
		if refs := r.inlineReferences(element.Text); len(refs) > 0 {
			element.InlineReferences = refs
			for _, number := range refs {
				referenced[number] = true
			}
		}
		kept = append(kept, element)
	}

	// Drop definitions nothing in this chunk refers to.
	scoped := kept[:0]
	for _, element := range kept {
		if element.Kind == document.ElementText {
			if number, ok := footnoteNumber(element.Text); ok && !referenced[number] {
				continue
			}
		}
		scoped = append(scoped, element)
	}

	// Pull in referenced definitions living in other chunks.
	missing := make([]int, 0)
	for number := range referenced {
		if !present[number] {
			missing = append(missing, number)
		}
	}
	sort.Ints(missing)
	for _, number := range missing {
		if def := r.definitions[number]; def != nil {
			scoped = append(scoped, *def)
		}
	}

	chunk.Elements = scoped
}

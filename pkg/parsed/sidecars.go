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

package parsed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kadirpekel/docpipe/pkg/document"
)

// Artifact layout inside a parsed folder. The document JSON and markdown
// use the document stem; sidecar metadata lives next to the media it
// describes under images/ and tables/.
const (
	ImagesDir           = "images"
	TablesDir           = "tables"
	ImagesMetaFile      = "images_metadata.json"
	TableImagesMetaFile = "table_images.json"
	TOCFile             = "toc.txt"
)

// ImageMeta describes one extracted page image.
type ImageMeta struct {
	// Path is relative to the parsed folder.
	Path string        `json:"path"`
	Page int           `json:"page"`
	BBox document.BBox `json:"bbox"`

	// PositionHint is the vertical position on the page in [0,1],
	// 0 at the top.
	PositionHint float64 `json:"position_hint"`
}

// ImagesByPage maps page number → images on that page. JSON object keys
// are the page numbers as strings.
type ImagesByPage map[int][]ImageMeta

// MarshalJSON renders page keys as strings.
func (m ImagesByPage) MarshalJSON() ([]byte, error) {
	out := make(map[string][]ImageMeta, len(m))
	for page, imgs := range m {
		out[strconv.Itoa(page)] = imgs
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses string page keys back to ints.
func (m *ImagesByPage) UnmarshalJSON(data []byte) error {
	var raw map[string][]ImageMeta
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ImagesByPage, len(raw))
	for key, imgs := range raw {
		page, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid page key %q: %w", key, err)
		}
		out[page] = imgs
	}
	*m = out
	return nil
}

// TableImageMeta links a table (by its index within the document) to a
// rendered image of it.
type TableImageMeta struct {
	TableIndex int    `json:"table_index"`
	Page       int    `json:"page"`
	Path       string `json:"path"`
}

// Artifacts bundles everything a parsed folder holds for one document.
type Artifacts struct {
	Doc         *Document
	Images      ImagesByPage
	TableImages []TableImageMeta
	TOC         string
}

// DocumentFile returns the document JSON path for a stem.
func DocumentFile(dir, stem string) string {
	return filepath.Join(dir, stem+".json")
}

// MarkdownFile returns the markdown artifact path for a stem.
func MarkdownFile(dir, stem string) string {
	return filepath.Join(dir, stem+".md")
}

// LoadArtifacts reads the parsed folder for a document. The document JSON
// is required; sidecars are optional and default to empty.
func LoadArtifacts(dir, stem string) (*Artifacts, error) {
	doc, err := Load(DocumentFile(dir, stem))
	if err != nil {
		return nil, err
	}
	art := &Artifacts{Doc: doc, Images: ImagesByPage{}}

	if data, err := os.ReadFile(filepath.Join(dir, ImagesDir, ImagesMetaFile)); err == nil {
		if err := json.Unmarshal(data, &art.Images); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", ImagesMetaFile, err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, TablesDir, TableImagesMetaFile)); err == nil {
		if err := json.Unmarshal(data, &art.TableImages); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", TableImagesMetaFile, err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, TOCFile)); err == nil {
		art.TOC = string(data)
	}
	return art, nil
}

// Save writes all artifacts into dir, creating it if needed.
func (a *Artifacts) Save(dir, stem string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parsed folder: %w", err)
	}
	if err := a.Doc.Save(DocumentFile(dir, stem)); err != nil {
		return err
	}
	if err := os.WriteFile(MarkdownFile(dir, stem), []byte(a.Doc.Markdown()), 0644); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	if len(a.Images) > 0 {
		data, err := json.MarshalIndent(a.Images, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode image metadata: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(dir, ImagesDir), 0755); err != nil {
			return fmt.Errorf("failed to create images folder: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ImagesDir, ImagesMetaFile), data, 0644); err != nil {
			return fmt.Errorf("failed to write image metadata: %w", err)
		}
	}
	if len(a.TableImages) > 0 {
		data, err := json.MarshalIndent(a.TableImages, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode table image metadata: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(dir, TablesDir), 0755); err != nil {
			return fmt.Errorf("failed to create tables folder: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, TablesDir, TableImagesMetaFile), data, 0644); err != nil {
			return fmt.Errorf("failed to write table image metadata: %w", err)
		}
	}
	toc := a.TOC
	if toc == "" {
		toc = a.Doc.TOC()
	}
	if toc != "" {
		if err := os.WriteFile(filepath.Join(dir, TOCFile), []byte(toc), 0644); err != nil {
			return fmt.Errorf("failed to write toc: %w", err)
		}
	}
	return nil
}
